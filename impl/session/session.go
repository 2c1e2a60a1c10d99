// Package session issues, tracks and consumes single-use access sessions.
//
// A session moves Pending → Verified → Consumed, or to Expired from either
// non-terminal state. Every transition is a conditional update on the store,
// guarded by the current state, the expiry time and the attempt budget, so two
// concurrent callers can never both win the same transition.
//
// Expiry is enforced on every read: once now is past expires_at the session
// reports entity.ErrSessionExpired whatever state it was in.
package session

import (
	"context"
	"errors"
	"fmt"
	"linkgate/entity"
	"linkgate/internal/metrics"
	"linkgate/lib/clock"
	"linkgate/lib/sl"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultWindow      = 30 * time.Minute
	defaultMaxAttempts = 3
	// transitions are monotonic, a few re-reads settle any race
	maxRetries = 4
)

// Condition guards a conditional session update.
type Condition struct {
	State entity.SessionState
	// LiveAt requires expires_at to be after it; zero skips the check.
	LiveAt time.Time
	// MaxAttempts requires attempts below it; zero skips the check.
	MaxAttempts int
}

// Change is applied when the Condition holds.
type Change struct {
	State       entity.SessionState // empty keeps the state
	At          time.Time           // stamps verified_at or consumed_at
	IncAttempts bool
}

type Store interface {
	// ReplaceSession stores s as the only session of its (principal, link) pair.
	ReplaceSession(ctx context.Context, s *entity.AccessSession) error
	GetSession(ctx context.Context, token string) (*entity.AccessSession, error)
	// UpdateSession applies change atomically when cond holds and returns the
	// updated record, entity.ErrConflict when it does not hold and
	// entity.ErrSessionNotFound when the token is unknown.
	UpdateSession(ctx context.Context, token string, cond Condition, change Change) (*entity.AccessSession, error)
	DeleteSessionsBefore(ctx context.Context, now time.Time) (int64, error)
}

// LinkResolver returns an active link or ErrLinkNotFound/ErrLinkRevoked.
type LinkResolver interface {
	Resolve(ctx context.Context, id string) (*entity.LinkRecord, error)
}

type Config struct {
	Window      time.Duration
	MaxAttempts int
}

type Manager struct {
	store       Store
	links       LinkResolver
	window      time.Duration
	maxAttempts int
	clock       clock.Clock
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func New(store Store, links LinkResolver, conf Config, clk clock.Clock, m *metrics.Metrics, log *slog.Logger) *Manager {
	if conf.Window <= 0 {
		conf.Window = defaultWindow
	}
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = defaultMaxAttempts
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Manager{
		store:       store,
		links:       links,
		window:      conf.Window,
		maxAttempts: conf.MaxAttempts,
		clock:       clk,
		metrics:     m,
		log:         log.With(sl.Module("session")),
	}
}

func (m *Manager) MaxAttempts() int {
	return m.maxAttempts
}

// Issue mints a Pending session for the pair, superseding any earlier one.
// An inactive link fails like a missing one, wrapping entity.ErrLinkRevoked.
func (m *Manager) Issue(ctx context.Context, principal int64, linkId string) (*entity.AccessSession, error) {
	if _, err := m.links.Resolve(ctx, linkId); err != nil {
		if errors.Is(err, entity.ErrLinkRevoked) {
			return nil, fmt.Errorf("%w: %w", entity.ErrLinkNotFound, err)
		}
		return nil, err
	}
	now := m.clock.Now()
	s := &entity.AccessSession{
		Token:     uuid.NewString(),
		LinkId:    linkId,
		Principal: principal,
		State:     entity.SessionPending,
		CreatedAt: now,
		ExpiresAt: now.Add(m.window),
	}
	if err := m.store.ReplaceSession(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	m.metrics.Session(string(entity.SessionPending))
	m.log.With(
		sl.Secret("token", s.Token),
		slog.Int64("principal", principal),
		slog.String("link_id", linkId),
	).Debug("session issued")
	return s, nil
}

// Get loads a session, expiring it first when its window has closed.
func (m *Manager) Get(ctx context.Context, token string) (*entity.AccessSession, error) {
	s, err := m.store.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if !s.LiveAt(now) {
		m.expire(ctx, s, now)
		return nil, entity.ErrSessionExpired
	}
	if s.State == entity.SessionExpired {
		return nil, entity.ErrSessionExpired
	}
	return s, nil
}

// View is the client-facing status of a session.
func (m *Manager) View(s *entity.AccessSession) *entity.SessionView {
	left := m.maxAttempts - s.Attempts
	if left < 0 {
		left = 0
	}
	return &entity.SessionView{
		Token:        s.Token,
		LinkId:       s.LinkId,
		Principal:    s.Principal,
		State:        s.State,
		ExpiresAt:    s.ExpiresAt,
		Attempts:     s.Attempts,
		AttemptsLeft: left,
	}
}

// CheckAttempts fails with ErrTooManyAttempts once the attempt budget is spent.
func (m *Manager) CheckAttempts(s *entity.AccessSession) error {
	if s.Attempts >= m.maxAttempts {
		return entity.ErrTooManyAttempts
	}
	return nil
}

// MarkVerified moves a live Pending session to Verified.
func (m *Manager) MarkVerified(ctx context.Context, token string) (*entity.AccessSession, error) {
	s, err := m.transition(ctx, token, func(s *entity.AccessSession) error {
		switch s.State {
		case entity.SessionVerified:
			return entity.ErrAlreadyVerified
		case entity.SessionConsumed:
			return entity.ErrAlreadyConsumed
		}
		return m.CheckAttempts(s)
	}, func(now time.Time) (Condition, Change) {
		return Condition{State: entity.SessionPending, LiveAt: now, MaxAttempts: m.maxAttempts},
			Change{State: entity.SessionVerified, At: now}
	})
	if err != nil {
		return nil, err
	}
	m.metrics.Session(string(entity.SessionVerified))
	return s, nil
}

// Consume moves a live Verified session to Consumed and returns the destination.
// Exactly one caller can consume a given token.
func (m *Manager) Consume(ctx context.Context, token string) (string, *entity.AccessSession, error) {
	var link *entity.LinkRecord
	s, err := m.transition(ctx, token, func(s *entity.AccessSession) error {
		switch s.State {
		case entity.SessionPending:
			return entity.ErrNotVerified
		case entity.SessionConsumed:
			return entity.ErrAlreadyConsumed
		}
		var err error
		link, err = m.links.Resolve(ctx, s.LinkId)
		return err
	}, func(now time.Time) (Condition, Change) {
		return Condition{State: entity.SessionVerified, LiveAt: now},
			Change{State: entity.SessionConsumed, At: now}
	})
	if err != nil {
		return "", nil, err
	}
	m.metrics.Session(string(entity.SessionConsumed))
	m.log.With(
		sl.Secret("token", token),
		slog.Int64("principal", s.Principal),
		slog.String("link_id", s.LinkId),
	).Info("session consumed")
	return link.Destination, s, nil
}

// RecordFailure counts a failed verification step against a live Pending session.
// The returned session carries the new attempt count.
func (m *Manager) RecordFailure(ctx context.Context, token string) (*entity.AccessSession, error) {
	return m.transition(ctx, token, func(s *entity.AccessSession) error {
		switch s.State {
		case entity.SessionVerified:
			return entity.ErrAlreadyVerified
		case entity.SessionConsumed:
			return entity.ErrAlreadyConsumed
		}
		return m.CheckAttempts(s)
	}, func(now time.Time) (Condition, Change) {
		return Condition{State: entity.SessionPending, LiveAt: now, MaxAttempts: m.maxAttempts},
			Change{IncAttempts: true}
	})
}

func (m *Manager) Name() string {
	return "sessions"
}

// Sweep deletes sessions whose window closed before now.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return m.store.DeleteSessionsBefore(ctx, now)
}

// transition re-reads the session, checks guard, then applies the conditional
// update built by update. A lost race re-evaluates from a fresh read.
func (m *Manager) transition(
	ctx context.Context,
	token string,
	guard func(*entity.AccessSession) error,
	update func(now time.Time) (Condition, Change),
) (*entity.AccessSession, error) {
	for i := 0; i < maxRetries; i++ {
		s, err := m.Get(ctx, token)
		if err != nil {
			return nil, err
		}
		if err = guard(s); err != nil {
			return nil, err
		}
		cond, change := update(m.clock.Now())
		updated, err := m.store.UpdateSession(ctx, token, cond, change)
		if errors.Is(err, entity.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, entity.ErrConflict
}

func (m *Manager) expire(ctx context.Context, s *entity.AccessSession, now time.Time) {
	if s.State.Terminal() {
		return
	}
	_, err := m.store.UpdateSession(ctx, s.Token,
		Condition{State: s.State},
		Change{State: entity.SessionExpired, At: now},
	)
	if err != nil {
		if !errors.Is(err, entity.ErrConflict) && !errors.Is(err, entity.ErrNotFound) {
			m.log.With(sl.Secret("token", s.Token)).Warn("expire session", sl.Err(err))
		}
		return
	}
	m.metrics.Session(string(entity.SessionExpired))
}
