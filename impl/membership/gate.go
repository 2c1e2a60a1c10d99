// Package membership answers whether a principal is a member of every required
// group. Every lookup failure denies access.
package membership

import (
	"context"
	"errors"
	"fmt"
	"linkgate/entity"
	"linkgate/internal/metrics"
	"linkgate/lib/sl"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultTimeout = 5 * time.Second

// Lookup rejections reported by a Directory. Anything else is an upstream failure.
var (
	ErrPrincipalUnknown = errors.New("principal unknown")
	ErrGroupUnknown     = errors.New("group unknown")
	ErrNoRights         = errors.New("insufficient rights")
)

// Directory is the external group-membership service.
type Directory interface {
	MemberStatus(ctx context.Context, groupId, principal int64) (entity.MemberStatus, error)
	CreateInviteLink(ctx context.Context, groupId int64, expireAt time.Time) (string, error)
}

type Gate struct {
	dir     Directory
	groups  []int64
	timeout time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(dir Directory, groups []int64, timeout time.Duration, m *metrics.Metrics, log *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	g := make([]int64, len(groups))
	copy(g, groups)
	return &Gate{
		dir:     dir,
		groups:  g,
		timeout: timeout,
		metrics: m,
		log:     log.With(sl.Module("membership")),
	}
}

func (g *Gate) Groups() []int64 {
	groups := make([]int64, len(g.groups))
	copy(groups, g.groups)
	return groups
}

// Authorize returns nil only when every required group reports the principal as
// member, administrator or creator. Otherwise it returns *entity.MembershipError.
func (g *Gate) Authorize(ctx context.Context, principal int64) error {
	if len(g.groups) == 0 {
		return nil
	}

	results := make([]*entity.Denial, len(g.groups))
	var eg errgroup.Group
	for i, group := range g.groups {
		i, group := i, group
		eg.Go(func() error {
			results[i] = g.check(ctx, group, principal)
			return nil
		})
	}
	_ = eg.Wait()

	var denials []entity.Denial
	for _, d := range results {
		if d != nil {
			denials = append(denials, *d)
		}
	}
	if len(denials) == 0 {
		return nil
	}
	return &entity.MembershipError{Principal: principal, Denials: denials}
}

type lookup struct {
	status entity.MemberStatus
	err    error
}

func (g *Gate) check(ctx context.Context, group, principal int64) *entity.Denial {
	log := g.log.With(slog.Int64("group", group), slog.Int64("principal", principal))
	if g.dir == nil {
		log.Error("membership directory not connected")
		return &entity.Denial{GroupID: group, Reason: entity.DenyUpstream, Err: entity.ErrUpstreamUnavailable}
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	ch := make(chan lookup, 1)
	go func() {
		status, err := g.dir.MemberStatus(cctx, group, principal)
		ch <- lookup{status: status, err: err}
	}()

	var res lookup
	select {
	case res = <-ch:
	case <-cctx.Done():
		res = lookup{err: cctx.Err()}
	}
	elapsed := time.Since(started)

	if res.err != nil {
		if isRejection(res.err) {
			g.metrics.Membership("rejected", elapsed)
			log.Debug("membership lookup rejected", sl.Err(res.err))
			return &entity.Denial{GroupID: group, Reason: entity.DenyRejected, Err: res.err}
		}
		g.metrics.Membership("upstream", elapsed)
		log.Warn("membership lookup failed", sl.Err(res.err))
		return &entity.Denial{
			GroupID: group,
			Reason:  entity.DenyUpstream,
			Err:     fmt.Errorf("%w: %w", entity.ErrUpstreamUnavailable, res.err),
		}
	}

	if !res.status.Authorizes() {
		g.metrics.Membership("not_member", elapsed)
		return &entity.Denial{GroupID: group, Reason: entity.DenyNotMember, Status: res.status}
	}
	g.metrics.Membership("member", elapsed)
	return nil
}

func isRejection(err error) bool {
	return errors.Is(err, ErrPrincipalUnknown) || errors.Is(err, ErrGroupUnknown) || errors.Is(err, ErrNoRights)
}
