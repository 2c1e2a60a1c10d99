package core_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"linkgate/entity"
	"linkgate/impl/challenge"
	"linkgate/impl/core"
	"linkgate/impl/membership"
	"linkgate/impl/registry"
	"linkgate/impl/session"
	"linkgate/internal/database/memory"
	"linkgate/lib/api/cont"
	"linkgate/lib/clock"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner       = int64(10)
	admin       = int64(99)
	principal   = int64(1001)
	group       = int64(-100500)
	destination = "https://t.me/+PrivateGroupCode"
)

type directory struct {
	mu      sync.Mutex
	members map[int64]bool
	down    bool
}

func (d *directory) join(principal int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[principal] = true
}

func (d *directory) MemberStatus(_ context.Context, groupId, principal int64) (entity.MemberStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return entity.StatusNone, errors.New("connection reset")
	}
	if groupId != group {
		return entity.StatusNone, membership.ErrGroupUnknown
	}
	if d.members[principal] {
		return entity.StatusMember, nil
	}
	return entity.StatusLeft, nil
}

func (d *directory) CreateInviteLink(_ context.Context, groupId int64, _ time.Time) (string, error) {
	return fmt.Sprintf("https://t.me/+invite%d", -groupId), nil
}

type notifier struct {
	mu      sync.Mutex
	codes   map[int64]string
	prompts map[int64]string
}

func (n *notifier) DeliverChallenge(_ context.Context, principal int64, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[principal] = code
	return nil
}

func (n *notifier) DeliverSessionPrompt(_ context.Context, principal int64, redeemURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prompts[principal] = redeemURL
	return nil
}

type fixture struct {
	core     *core.Core
	store    *memory.MemStorage
	clock    *clock.Fake
	dir      *directory
	notifier *notifier
	linkId   string
}

func setup(t *testing.T, captcha bool) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	dir := &directory{members: map[int64]bool{}}
	n := &notifier{codes: map[int64]string{}, prompts: map[int64]string{}}

	links := registry.New(store, 720*time.Hour, clk, nil, log)
	sessions := session.New(store, links, session.Config{Window: 30 * time.Minute, MaxAttempts: 3}, clk, nil, log)
	gate := membership.New(dir, []int64{group}, time.Second, nil, log)

	c := core.New(core.Config{
		Captcha:   captcha,
		PublicUrl: "https://gate.example.com/",
		Admins:    []int64{admin},
	}, links, sessions, gate, store, clk, nil, log)
	c.SetChallenges(challenge.New(store, 5*time.Minute, clk, nil, log))
	c.SetInvites(membership.NewInvites(dir, nil, 24*time.Hour, clk, log))
	c.SetNotifier(n)

	link, err := c.CreateLink(context.Background(), entity.Principal{Id: owner, Username: "owner"}, destination)
	require.NoError(t, err)
	return &fixture{core: c, store: store, clock: clk, dir: dir, notifier: n, linkId: link.Id}
}

func TestScenario_JoinThenComplete(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	p := entity.Principal{Id: principal, Username: "visitor"}

	_, err := f.core.RequestAccess(ctx, p, f.linkId)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrUnauthorized)
	assert.NotErrorIs(t, err, entity.ErrUpstreamUnavailable)
	var join *core.JoinRequiredError
	require.ErrorAs(t, err, &join)
	require.Len(t, join.Invites, 1)
	assert.Equal(t, group, join.Invites[0].GroupID)
	assert.Equal(t, "https://t.me/+invite100500", join.Invites[0].URL)

	f.dir.join(principal)

	grant, err := f.core.RequestAccess(ctx, p, f.linkId)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionPending, grant.Session.State)
	assert.False(t, grant.Challenge)
	assert.Equal(t, "https://gate.example.com/join?token="+grant.Session.Token, grant.RedeemURL)
	assert.Equal(t, grant.RedeemURL, f.notifier.prompts[principal])

	view, err := f.core.SessionStatus(ctx, grant.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionPending, view.State)

	done, err := f.core.Complete(cont.PutRemoteAddr(ctx, "10.0.0.1"), grant.Session.Token, "")
	require.NoError(t, err)
	assert.Equal(t, destination, done.Destination)
	assert.Equal(t, f.linkId, done.LinkId)

	_, err = f.core.Complete(ctx, grant.Session.Token, "")
	assert.ErrorIs(t, err, entity.ErrAlreadyConsumed)

	link, err := f.core.LinkInfo(ctx, f.linkId, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), link.AccessCount)
	assert.Equal(t, []int64{principal}, link.UniquePrincipals)

	visitor, err := f.store.GetPrincipal(ctx, principal)
	require.NoError(t, err)
	assert.Equal(t, int64(1), visitor.TotalVerifications)
	assert.Equal(t, "visitor", visitor.Username)

	events := f.store.AccessEvents()
	require.Len(t, events, 1)
	assert.Equal(t, entity.ActionVerificationComplete, events[0].Action)
	assert.Equal(t, "10.0.0.1", events[0].RemoteAddr)
}

func TestRequestAccess_UpstreamFailsClosed(t *testing.T) {
	f := setup(t, false)
	f.dir.join(principal)
	f.dir.down = true

	_, err := f.core.RequestAccess(context.Background(), entity.Principal{Id: principal}, f.linkId)
	assert.ErrorIs(t, err, entity.ErrUnauthorized)
	assert.ErrorIs(t, err, entity.ErrUpstreamUnavailable)
}

func TestRequestAccess_AdminBypass(t *testing.T) {
	f := setup(t, false)

	grant, err := f.core.RequestAccess(context.Background(), entity.Principal{Id: admin}, f.linkId)
	require.NoError(t, err)
	assert.Equal(t, admin, grant.Session.Principal)
}

func TestRequestAccess_Link(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	f.dir.join(principal)

	_, err := f.core.RequestAccess(ctx, entity.Principal{Id: principal}, "AAAAAAAAAAAAAAAAAAAAAA")
	assert.ErrorIs(t, err, entity.ErrLinkNotFound)

	_, err = f.core.RevokeLink(ctx, f.linkId, principal)
	assert.ErrorIs(t, err, entity.ErrForbidden)
	_, err = f.core.RevokeLink(ctx, f.linkId, owner)
	require.NoError(t, err)

	_, err = f.core.RequestAccess(ctx, entity.Principal{Id: principal}, f.linkId)
	assert.ErrorIs(t, err, entity.ErrLinkRevoked)
}

func TestCaptcha_Flow(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.dir.join(principal)

	grant, err := f.core.RequestAccess(ctx, entity.Principal{Id: principal}, f.linkId)
	require.NoError(t, err)
	assert.True(t, grant.Challenge)
	code := f.notifier.codes[principal]
	require.Len(t, code, challenge.CodeDigits)

	done, err := f.core.Complete(ctx, grant.Session.Token, code)
	require.NoError(t, err)
	assert.Equal(t, destination, done.Destination)
}

func TestCaptcha_WrongCodeNeedsRefresh(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.dir.join(principal)

	grant, err := f.core.RequestAccess(ctx, entity.Principal{Id: principal}, f.linkId)
	require.NoError(t, err)
	code := f.notifier.codes[principal]
	wrong := "00000"
	if code == wrong {
		wrong = "11111"
	}

	_, err = f.core.Complete(ctx, grant.Session.Token, wrong)
	assert.ErrorIs(t, err, entity.ErrChallengeFailed)

	// the failed attempt removed the challenge
	_, err = f.core.Complete(ctx, grant.Session.Token, code)
	assert.ErrorIs(t, err, entity.ErrChallengeNotFound)

	require.NoError(t, f.core.RefreshChallenge(ctx, grant.Session.Token))
	done, err := f.core.Complete(ctx, grant.Session.Token, f.notifier.codes[principal])
	require.NoError(t, err)
	assert.Equal(t, destination, done.Destination)

	assert.ErrorIs(t, f.core.RefreshChallenge(ctx, grant.Session.Token), entity.ErrAlreadyConsumed)
}

func TestCaptcha_TooManyAttempts(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.dir.join(principal)

	grant, err := f.core.RequestAccess(ctx, entity.Principal{Id: principal}, f.linkId)
	require.NoError(t, err)
	token := grant.Session.Token

	for i := 0; i < 3; i++ {
		if i > 0 {
			require.NoError(t, f.core.RefreshChallenge(ctx, token))
		}
		wrong := "00000"
		if f.notifier.codes[principal] == wrong {
			wrong = "11111"
		}
		_, err = f.core.Complete(ctx, token, wrong)
		if i < 2 {
			assert.ErrorIs(t, err, entity.ErrChallengeFailed)
		} else {
			assert.ErrorIs(t, err, entity.ErrTooManyAttempts)
		}
	}

	assert.ErrorIs(t, f.core.RefreshChallenge(ctx, token), entity.ErrTooManyAttempts)
	_, err = f.core.SessionStatus(ctx, token)
	assert.ErrorIs(t, err, entity.ErrTooManyAttempts)
	_, err = f.core.Complete(ctx, token, "12345")
	assert.ErrorIs(t, err, entity.ErrTooManyAttempts)
}

func TestComplete_Expired(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	f.dir.join(principal)

	grant, err := f.core.RequestAccess(ctx, entity.Principal{Id: principal}, f.linkId)
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	_, err = f.core.Complete(ctx, grant.Session.Token, "")
	assert.ErrorIs(t, err, entity.ErrSessionExpired)
	_, err = f.core.SessionStatus(ctx, grant.Session.Token)
	assert.ErrorIs(t, err, entity.ErrSessionExpired)
}

func TestStats(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	f.dir.join(principal)

	_, err := f.core.RequestAccess(ctx, entity.Principal{Id: principal}, f.linkId)
	require.NoError(t, err)

	stats, err := f.core.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Users)
	assert.Equal(t, int64(1), stats.Links)
	assert.Equal(t, int64(1), stats.Sessions)
	assert.False(t, stats.Durable)

	links, err := f.core.ListLinks(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}
