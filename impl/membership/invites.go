package membership

import (
	"context"
	"fmt"
	"linkgate/entity"
	"linkgate/lib/clock"
	"linkgate/lib/sl"
	"log/slog"
	"sync"
	"time"
)

const defaultInviteTTL = 24 * time.Hour

// InviteBackend keeps invite links between refreshes.
type InviteBackend interface {
	GetInvite(ctx context.Context, groupId int64) (string, bool, error)
	PutInvite(ctx context.Context, groupId int64, url string, ttl time.Duration) error
}

// Invites hands out join links for groups, refreshing them from the directory
// once the cached link is older than ttl.
type Invites struct {
	dir     Directory
	backend InviteBackend
	ttl     time.Duration
	clock   clock.Clock
	log     *slog.Logger
}

func NewInvites(dir Directory, backend InviteBackend, ttl time.Duration, clk clock.Clock, log *slog.Logger) *Invites {
	if ttl <= 0 {
		ttl = defaultInviteTTL
	}
	if clk == nil {
		clk = clock.System()
	}
	if backend == nil {
		backend = NewMemoryInvites(clk)
	}
	return &Invites{
		dir:     dir,
		backend: backend,
		ttl:     ttl,
		clock:   clk,
		log:     log.With(sl.Module("membership.invites")),
	}
}

// Get returns the cached link for the group, creating one when missing or stale.
func (i *Invites) Get(ctx context.Context, groupId int64) (string, error) {
	url, ok, err := i.backend.GetInvite(ctx, groupId)
	if err != nil {
		i.log.With(slog.Int64("group", groupId)).Warn("invite cache read", sl.Err(err))
	}
	if ok {
		return url, nil
	}
	return i.Refresh(ctx, groupId)
}

// Refresh creates a new invite link and stores it for ttl.
func (i *Invites) Refresh(ctx context.Context, groupId int64) (string, error) {
	if i.dir == nil {
		return "", fmt.Errorf("create invite: %w", entity.ErrUpstreamUnavailable)
	}
	// the link outlives its cache entry so a cached url is never dead
	expireAt := i.clock.Now().Add(i.ttl + time.Hour)
	url, err := i.dir.CreateInviteLink(ctx, groupId, expireAt)
	if err != nil {
		return "", fmt.Errorf("create invite: %w", err)
	}
	if err = i.backend.PutInvite(ctx, groupId, url, i.ttl); err != nil {
		i.log.With(slog.Int64("group", groupId)).Warn("invite cache write", sl.Err(err))
	}
	return url, nil
}

// ForGroups resolves invites for the listed groups, skipping the ones that fail.
func (i *Invites) ForGroups(ctx context.Context, groups []int64) []entity.Invite {
	invites := make([]entity.Invite, 0, len(groups))
	for _, group := range groups {
		url, err := i.Get(ctx, group)
		if err != nil {
			i.log.With(slog.Int64("group", group)).Error("invite link", sl.Err(err))
			continue
		}
		invites = append(invites, entity.Invite{GroupID: group, URL: url})
	}
	return invites
}

type cachedInvite struct {
	url     string
	expires time.Time
}

// MemoryInvites is the in-process InviteBackend; entries expire on the injected clock.
type MemoryInvites struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[int64]cachedInvite
}

func NewMemoryInvites(clk clock.Clock) *MemoryInvites {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryInvites{
		clock:   clk,
		entries: make(map[int64]cachedInvite),
	}
}

func (m *MemoryInvites) GetInvite(_ context.Context, groupId int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[groupId]
	if !ok {
		return "", false, nil
	}
	if !m.clock.Now().Before(entry.expires) {
		delete(m.entries, groupId)
		return "", false, nil
	}
	return entry.url, true, nil
}

func (m *MemoryInvites) PutInvite(_ context.Context, groupId int64, url string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[groupId] = cachedInvite{url: url, expires: m.clock.Now().Add(ttl)}
	return nil
}
