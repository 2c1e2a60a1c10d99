package core

import (
	"context"
	"errors"
	"fmt"
	"linkgate/entity"
	"linkgate/impl/challenge"
	"linkgate/impl/registry"
	"linkgate/impl/session"
	"linkgate/internal/metrics"
	"linkgate/lib/api/cont"
	"linkgate/lib/clock"
	"linkgate/lib/sl"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"
)

var ErrCaptchaDisabled = errors.New("captcha mode disabled")

type Gate interface {
	Authorize(ctx context.Context, principal int64) error
}

type InviteSource interface {
	ForGroups(ctx context.Context, groups []int64) []entity.Invite
}

// Notifier delivers codes and redeem prompts to a principal.
type Notifier interface {
	DeliverChallenge(ctx context.Context, principal int64, code string) error
	DeliverSessionPrompt(ctx context.Context, principal int64, redeemURL string) error
}

// Ledger is the principal activity record and audit log.
type Ledger interface {
	TouchPrincipal(ctx context.Context, p *entity.Principal, at time.Time) error
	IncrementCounter(ctx context.Context, principal int64, counter string) error
	SaveAccessEvent(ctx context.Context, e *entity.AccessEvent) error
	RecentPrincipals(ctx context.Context, limit int) ([]*entity.Principal, error)
	Stats(ctx context.Context, now time.Time) (*entity.Stats, error)
	Durable() bool
}

// JoinRequiredError is returned by RequestAccess when the membership gate
// denies the principal. It unwraps to the gate error.
type JoinRequiredError struct {
	Invites []entity.Invite
	Err     error
}

func (e *JoinRequiredError) Error() string {
	return fmt.Sprintf("join required: %v", e.Err)
}

func (e *JoinRequiredError) Unwrap() error {
	return e.Err
}

// AccessGrant is the result of a successful access request.
type AccessGrant struct {
	Session   *entity.AccessSession
	RedeemURL string
	Challenge bool
}

type Config struct {
	Captcha   bool
	PublicUrl string
	Admins    []int64
}

type Core struct {
	conf       Config
	links      *registry.Registry
	sessions   *session.Manager
	challenges *challenge.Issuer
	gate       Gate
	invites    InviteSource
	ledger     Ledger
	notifier   Notifier
	clock      clock.Clock
	metrics    *metrics.Metrics
	log        *slog.Logger
}

func New(conf Config, links *registry.Registry, sessions *session.Manager, gate Gate, ledger Ledger, clk clock.Clock, m *metrics.Metrics, log *slog.Logger) *Core {
	if clk == nil {
		clk = clock.System()
	}
	return &Core{
		conf:     conf,
		links:    links,
		sessions: sessions,
		gate:     gate,
		ledger:   ledger,
		clock:    clk,
		metrics:  m,
		log:      log.With(sl.Module("core")),
	}
}

func (c *Core) SetChallenges(issuer *challenge.Issuer) {
	c.challenges = issuer
}

func (c *Core) SetInvites(invites InviteSource) {
	c.invites = invites
}

func (c *Core) SetNotifier(notifier Notifier) {
	c.notifier = notifier
}

func (c *Core) Captcha() bool {
	return c.conf.Captcha
}

func (c *Core) IsAdmin(principal int64) bool {
	return slices.Contains(c.conf.Admins, principal)
}

// RedeemURL is the client app address that completes a session.
func (c *Core) RedeemURL(token string) string {
	return fmt.Sprintf("%s/join?token=%s", strings.TrimRight(c.conf.PublicUrl, "/"), url.QueryEscape(token))
}

// TouchPrincipal records activity of a principal; failures are only logged.
func (c *Core) TouchPrincipal(ctx context.Context, p entity.Principal) {
	if c.ledger == nil || p.Id == 0 {
		return
	}
	if err := c.ledger.TouchPrincipal(ctx, &p, c.clock.Now()); err != nil {
		c.log.With(slog.Int64("principal", p.Id)).Warn("touch principal", sl.Err(err))
	}
}

// CheckMembership runs the membership gate alone. Admins always pass.
func (c *Core) CheckMembership(ctx context.Context, principal int64) error {
	if c.IsAdmin(principal) {
		return nil
	}
	if c.gate == nil {
		return &entity.MembershipError{Principal: principal}
	}
	err := c.gate.Authorize(ctx, principal)
	if err == nil {
		return nil
	}
	var groups []int64
	var me *entity.MembershipError
	if errors.As(err, &me) {
		groups = me.Groups()
	}
	var invites []entity.Invite
	if c.invites != nil && len(groups) > 0 {
		invites = c.invites.ForGroups(ctx, groups)
	}
	return &JoinRequiredError{Invites: invites, Err: err}
}

// RequestAccess resolves the link, runs the membership gate and, in captcha
// mode, issues and delivers a challenge before minting a Pending session.
// The destination is never part of the result.
func (c *Core) RequestAccess(ctx context.Context, p entity.Principal, linkId string) (*AccessGrant, error) {
	c.TouchPrincipal(ctx, p)
	log := c.log.With(slog.Int64("principal", p.Id), slog.String("link_id", linkId))

	link, err := c.links.Resolve(ctx, linkId)
	if err != nil {
		c.metrics.Access(outcome(err))
		return nil, err
	}

	if err = c.CheckMembership(ctx, p.Id); err != nil {
		c.metrics.Access(outcome(err))
		log.Debug("membership required", sl.Err(err))
		return nil, err
	}

	grant := &AccessGrant{}
	if c.conf.Captcha {
		if c.challenges == nil {
			return nil, fmt.Errorf("challenge issuer not connected")
		}
		ch, err := c.challenges.Issue(ctx, p.Id, link.Id)
		if err != nil {
			return nil, err
		}
		grant.Challenge = true
		c.deliverChallenge(ctx, p.Id, ch.Code)
	}

	grant.Session, err = c.sessions.Issue(ctx, p.Id, link.Id)
	if err != nil {
		c.metrics.Access(outcome(err))
		return nil, err
	}
	grant.RedeemURL = c.RedeemURL(grant.Session.Token)

	if c.notifier != nil {
		if err = c.notifier.DeliverSessionPrompt(ctx, p.Id, grant.RedeemURL); err != nil {
			log.Warn("deliver session prompt", sl.Err(err))
		}
	}
	c.metrics.Access("granted")
	log.Info("access granted")
	return grant, nil
}

// SessionStatus reports a session without its destination.
func (c *Core) SessionStatus(ctx context.Context, token string) (*entity.SessionView, error) {
	s, err := c.sessions.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if s.State == entity.SessionPending {
		if err = c.sessions.CheckAttempts(s); err != nil {
			return nil, err
		}
	}
	return c.sessions.View(s), nil
}

// Complete verifies a Pending session (checking the challenge code in captcha
// mode), then consumes it and returns the destination exactly once.
func (c *Core) Complete(ctx context.Context, token, code string) (*entity.Completion, error) {
	s, err := c.sessions.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	log := c.log.With(sl.Secret("token", token), slog.Int64("principal", s.Principal), slog.String("link_id", s.LinkId))

	if s.State == entity.SessionPending {
		if c.conf.Captcha {
			if err = c.verifyChallenge(ctx, s, code); err != nil {
				log.Debug("challenge not passed", sl.Err(err))
				return nil, err
			}
		}
		_, err = c.sessions.MarkVerified(ctx, token)
		if err != nil && !errors.Is(err, entity.ErrAlreadyVerified) {
			return nil, err
		}
	}

	destination, consumed, err := c.sessions.Consume(ctx, token)
	if err != nil {
		return nil, err
	}

	c.recordCompletion(ctx, consumed)
	c.metrics.Access("completed")
	log.Info("session completed")

	verifiedAt := c.clock.Now()
	if consumed.VerifiedAt != nil {
		verifiedAt = *consumed.VerifiedAt
	}
	return &entity.Completion{
		Destination: destination,
		LinkId:      consumed.LinkId,
		VerifiedAt:  verifiedAt,
	}, nil
}

// RefreshChallenge issues and delivers a new code for a live Pending session.
func (c *Core) RefreshChallenge(ctx context.Context, token string) error {
	if !c.conf.Captcha || c.challenges == nil {
		return ErrCaptchaDisabled
	}
	s, err := c.sessions.Get(ctx, token)
	if err != nil {
		return err
	}
	switch s.State {
	case entity.SessionVerified:
		return entity.ErrAlreadyVerified
	case entity.SessionConsumed:
		return entity.ErrAlreadyConsumed
	}
	if err = c.sessions.CheckAttempts(s); err != nil {
		return err
	}
	ch, err := c.challenges.Issue(ctx, s.Principal, s.LinkId)
	if err != nil {
		return err
	}
	c.deliverChallenge(ctx, s.Principal, ch.Code)
	return nil
}

func (c *Core) CreateLink(ctx context.Context, owner entity.Principal, destination string) (*entity.LinkRecord, error) {
	c.TouchPrincipal(ctx, owner)
	link, err := c.links.Create(ctx, destination, owner)
	if err != nil {
		return nil, err
	}
	c.incrementCounter(ctx, owner.Id, entity.CounterLinks)
	return link, nil
}

func (c *Core) RevokeLink(ctx context.Context, id string, requester int64) (*entity.LinkRecord, error) {
	return c.links.Revoke(ctx, id, requester)
}

// LinkInfo returns a link with its counters to its owner.
func (c *Core) LinkInfo(ctx context.Context, id string, requester int64) (*entity.LinkRecord, error) {
	link, err := c.links.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if link.Owner != requester {
		return nil, entity.ErrForbidden
	}
	return link, nil
}

func (c *Core) ListLinks(ctx context.Context, owner int64) ([]*entity.LinkRecord, error) {
	return c.links.ListByOwner(ctx, owner)
}

func (c *Core) Stats(ctx context.Context) (*entity.Stats, error) {
	if c.ledger == nil {
		return nil, fmt.Errorf("ledger not connected")
	}
	stats, err := c.ledger.Stats(ctx, c.clock.Now())
	if err != nil {
		return nil, err
	}
	stats.Durable = c.ledger.Durable()
	return stats, nil
}

// RecentPrincipals lists principals by last activity; limit <= 0 returns all.
func (c *Core) RecentPrincipals(ctx context.Context, limit int) ([]*entity.Principal, error) {
	if c.ledger == nil {
		return nil, fmt.Errorf("ledger not connected")
	}
	return c.ledger.RecentPrincipals(ctx, limit)
}

func (c *Core) verifyChallenge(ctx context.Context, s *entity.AccessSession, code string) error {
	if c.challenges == nil {
		return fmt.Errorf("challenge issuer not connected")
	}
	if err := c.sessions.CheckAttempts(s); err != nil {
		return err
	}
	err := c.challenges.Verify(ctx, s.Principal, s.LinkId, code)
	if !errors.Is(err, entity.ErrChallengeFailed) {
		return err
	}
	updated, ferr := c.sessions.RecordFailure(ctx, s.Token)
	if ferr != nil {
		return ferr
	}
	if c.sessions.CheckAttempts(updated) != nil {
		return entity.ErrTooManyAttempts
	}
	return err
}

func (c *Core) deliverChallenge(ctx context.Context, principal int64, code string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.DeliverChallenge(ctx, principal, code); err != nil {
		c.log.With(slog.Int64("principal", principal)).Warn("deliver challenge", sl.Err(err))
	}
}

// recordCompletion updates counters and the audit log after a consume.
// The destination is already released, so failures are only logged.
func (c *Core) recordCompletion(ctx context.Context, s *entity.AccessSession) {
	log := c.log.With(slog.Int64("principal", s.Principal), slog.String("link_id", s.LinkId))
	if err := c.links.RecordAccess(ctx, s.LinkId, s.Principal); err != nil {
		log.Warn("record link access", sl.Err(err))
	}
	c.incrementCounter(ctx, s.Principal, entity.CounterVerifications)
	if c.ledger == nil {
		return
	}
	remote := cont.GetRemoteAddr(ctx)
	event := &entity.AccessEvent{
		Principal:  s.Principal,
		LinkId:     s.LinkId,
		Action:     entity.ActionVerificationComplete,
		Timestamp:  c.clock.Now(),
		RemoteAddr: remote,
	}
	if err := c.ledger.SaveAccessEvent(ctx, event); err != nil {
		log.Warn("save access event", sl.Err(err))
	}
}

func (c *Core) incrementCounter(ctx context.Context, principal int64, counter string) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.IncrementCounter(ctx, principal, counter); err != nil {
		c.log.With(slog.Int64("principal", principal)).Warn("increment "+counter, sl.Err(err))
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, entity.ErrLinkRevoked):
		return "revoked"
	case errors.Is(err, entity.ErrNotFound):
		return "not_found"
	case errors.Is(err, entity.ErrUpstreamUnavailable):
		return "upstream"
	case errors.Is(err, entity.ErrUnauthorized):
		return "unauthorized"
	}
	return "error"
}
