// Package challenge issues and verifies numeric codes bound to a
// (principal, link) pair.
//
// Issue replaces any live code for the pair. Verify removes the code whatever
// the outcome, so a wrong answer can never be retried against the same code;
// the caller has to ask for a new one.
package challenge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"linkgate/entity"
	"linkgate/internal/metrics"
	"linkgate/lib/clock"
	"linkgate/lib/sl"
	"log/slog"
	"math/big"
	"time"
)

const (
	CodeDigits = 5
	defaultTTL = 5 * time.Minute
)

var codeSpace = big.NewInt(100000)

type Store interface {
	// ReplaceChallenge stores c as the only challenge of its (principal, link) pair.
	ReplaceChallenge(ctx context.Context, c *entity.Challenge) error
	// TakeChallenge atomically reads and deletes the challenge of the pair.
	TakeChallenge(ctx context.Context, principal int64, linkId string) (*entity.Challenge, error)
	DeleteChallengesBefore(ctx context.Context, now time.Time) (int64, error)
}

type Issuer struct {
	store    Store
	ttl      time.Duration
	clock    clock.Clock
	generate func() (string, error)
	metrics  *metrics.Metrics
	log      *slog.Logger
}

type Option func(*Issuer)

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(i *Issuer) {
		i.generate = fn
	}
}

func New(store Store, ttl time.Duration, clk clock.Clock, m *metrics.Metrics, log *slog.Logger, opts ...Option) *Issuer {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if clk == nil {
		clk = clock.System()
	}
	i := &Issuer{
		store:    store,
		ttl:      ttl,
		clock:    clk,
		generate: GenerateCode,
		metrics:  m,
		log:      log.With(sl.Module("challenge")),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue creates a new code for the pair, invalidating the previous one.
func (i *Issuer) Issue(ctx context.Context, principal int64, linkId string) (*entity.Challenge, error) {
	code, err := i.generate()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	now := i.clock.Now()
	c := &entity.Challenge{
		Principal: principal,
		LinkId:    linkId,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err = i.store.ReplaceChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	i.metrics.Challenge("issued")
	i.log.With(
		slog.Int64("principal", principal),
		slog.String("link_id", linkId),
	).Debug("challenge issued")
	return c, nil
}

// Verify consumes the live challenge of the pair. It returns nil when the code
// matches, entity.ErrChallengeFailed on mismatch, entity.ErrChallengeExpired when
// the code outlived its ttl and entity.ErrChallengeNotFound when there is none.
func (i *Issuer) Verify(ctx context.Context, principal int64, linkId, code string) error {
	c, err := i.store.TakeChallenge(ctx, principal, linkId)
	if err != nil {
		return err
	}
	log := i.log.With(slog.Int64("principal", principal), slog.String("link_id", linkId))

	if !i.clock.Now().Before(c.ExpiresAt) {
		i.metrics.Challenge("expired")
		log.Debug("challenge expired")
		return entity.ErrChallengeExpired
	}
	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) != 1 {
		i.metrics.Challenge("failed")
		log.Info("challenge failed")
		return entity.ErrChallengeFailed
	}
	i.metrics.Challenge("solved")
	log.Debug("challenge solved")
	return nil
}

func (i *Issuer) Name() string {
	return "challenges"
}

// Sweep deletes challenges whose ttl elapsed before now.
func (i *Issuer) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return i.store.DeleteChallengesBefore(ctx, now)
}

// GenerateCode returns a uniformly random zero-padded 5 digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}
