// Package registry stores the mapping from opaque link ids to hidden destinations.
package registry

import (
	"context"
	"errors"
	"fmt"
	"linkgate/entity"
	"linkgate/impl/codec"
	"linkgate/internal/metrics"
	"linkgate/lib/clock"
	"linkgate/lib/sl"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

const mintAttempts = 3

var destinationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(t\.me|telegram\.me)/joinchat/[A-Za-z0-9_-]+/?$`),
	regexp.MustCompile(`^https?://(t\.me|telegram\.me)/\+[A-Za-z0-9_-]+/?$`),
	regexp.MustCompile(`^https?://(t\.me|telegram\.me)/[A-Za-z][A-Za-z0-9_]{4,}/?$`),
	regexp.MustCompile(`^https?://(t\.me|telegram\.me)/i/[A-Za-z0-9_-]+/?$`),
	regexp.MustCompile(`^https?://(t\.me|telegram\.me)/c/[0-9]+(/[0-9]+)?/?$`),
}

type Store interface {
	// InsertLink fails with entity.ErrDuplicate when the id is taken.
	InsertLink(ctx context.Context, link *entity.LinkRecord) error
	GetLink(ctx context.Context, id string) (*entity.LinkRecord, error)
	// RecordLinkAccess atomically increments access_count, adds the principal to
	// unique_principals and stamps last_accessed.
	RecordLinkAccess(ctx context.Context, id string, principal int64, at time.Time) error
	// DeactivateLink flips an active link to revoked and returns entity.ErrConflict
	// when the link is already inactive.
	DeactivateLink(ctx context.Context, id string, at time.Time) (*entity.LinkRecord, error)
	LinksByOwner(ctx context.Context, owner int64) ([]*entity.LinkRecord, error)
	DeleteLinksBefore(ctx context.Context, createdBefore time.Time) (int64, error)
}

type Registry struct {
	store   Store
	ttl     time.Duration
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(store Store, ttl time.Duration, clk clock.Clock, m *metrics.Metrics, log *slog.Logger) *Registry {
	if clk == nil {
		clk = clock.System()
	}
	return &Registry{
		store:   store,
		ttl:     ttl,
		clock:   clk,
		metrics: m,
		log:     log.With(sl.Module("registry")),
	}
}

// ValidateDestination accepts only Telegram group and channel links.
func ValidateDestination(destination string) error {
	destination = strings.TrimSpace(destination)
	for _, re := range destinationPatterns {
		if re.MatchString(destination) {
			return nil
		}
	}
	return entity.ErrInvalidDestination
}

// Create mints an id and stores a new active record owned by owner.
func (r *Registry) Create(ctx context.Context, destination string, owner entity.Principal) (*entity.LinkRecord, error) {
	destination = strings.TrimSpace(destination)
	if err := ValidateDestination(destination); err != nil {
		return nil, err
	}
	now := r.clock.Now()
	link := &entity.LinkRecord{
		Destination:      destination,
		Owner:            owner.Id,
		OwnerUsername:    owner.Username,
		Active:           true,
		UniquePrincipals: []int64{},
		CreatedAt:        now,
	}
	var err error
	for i := 0; i < mintAttempts; i++ {
		link.Id, err = codec.Mint()
		if err != nil {
			return nil, fmt.Errorf("mint id: %w", err)
		}
		err = r.store.InsertLink(ctx, link)
		if !errors.Is(err, entity.ErrDuplicate) {
			break
		}
		r.log.With(slog.String("id", link.Id)).Warn("id collision")
	}
	if err != nil {
		return nil, fmt.Errorf("store link: %w", err)
	}
	r.metrics.Link("created")
	r.log.With(
		slog.String("id", link.Id),
		slog.Int64("owner", owner.Id),
	).Info("link created")
	return link, nil
}

// Lookup returns the record whatever its active flag. Malformed ids and records
// past the ttl are reported as entity.ErrLinkNotFound.
func (r *Registry) Lookup(ctx context.Context, id string) (*entity.LinkRecord, error) {
	if !codec.Validate(id) {
		return nil, entity.ErrLinkNotFound
	}
	link, err := r.store.GetLink(ctx, id)
	if err != nil {
		return nil, err
	}
	if link.ExpiredAt(r.clock.Now(), r.ttl) {
		return nil, entity.ErrLinkNotFound
	}
	return link, nil
}

// Resolve is Lookup restricted to active records.
func (r *Registry) Resolve(ctx context.Context, id string) (*entity.LinkRecord, error) {
	link, err := r.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !link.Active {
		return nil, entity.ErrLinkRevoked
	}
	return link, nil
}

func (r *Registry) RecordAccess(ctx context.Context, id string, principal int64) error {
	err := r.store.RecordLinkAccess(ctx, id, principal, r.clock.Now())
	if err != nil {
		return fmt.Errorf("record access: %w", err)
	}
	r.metrics.Link("accessed")
	return nil
}

// Revoke deactivates a link on behalf of its owner. Revoking a revoked link
// returns the record unchanged.
func (r *Registry) Revoke(ctx context.Context, id string, requester int64) (*entity.LinkRecord, error) {
	link, err := r.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if link.Owner != requester {
		return nil, entity.ErrForbidden
	}
	if !link.Active {
		return link, nil
	}
	revoked, err := r.store.DeactivateLink(ctx, id, r.clock.Now())
	if errors.Is(err, entity.ErrConflict) {
		// revoked concurrently
		return r.store.GetLink(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("revoke: %w", err)
	}
	r.metrics.Link("revoked")
	r.log.With(slog.String("id", id), slog.Int64("owner", requester)).Info("link revoked")
	return revoked, nil
}

func (r *Registry) ListByOwner(ctx context.Context, owner int64) ([]*entity.LinkRecord, error) {
	links, err := r.store.LinksByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	live := links[:0]
	for _, l := range links {
		if !l.ExpiredAt(now, r.ttl) {
			live = append(live, l)
		}
	}
	return live, nil
}

func (r *Registry) Name() string {
	return "links"
}

// Sweep hard-deletes records older than the ttl, active or not.
func (r *Registry) Sweep(ctx context.Context, now time.Time) (int64, error) {
	if r.ttl <= 0 {
		return 0, nil
	}
	return r.store.DeleteLinksBefore(ctx, now.Add(-r.ttl))
}
