// Package memory is the non-durable storage backend. It keeps every collection
// in process memory and is used when MongoDB is disabled or unreachable, and as
// the store double in tests.
package memory

import (
	"context"
	"linkgate/entity"
	"linkgate/impl/session"
	"slices"
	"sort"
	"sync"
	"time"
)

type pair struct {
	principal int64
	linkId    string
}

type MemStorage struct {
	mu         sync.RWMutex
	links      map[string]*entity.LinkRecord
	sessions   map[string]*entity.AccessSession
	pairs      map[pair]string
	challenges map[pair]*entity.Challenge
	principals map[int64]*entity.Principal
	events     []entity.AccessEvent
}

func New() *MemStorage {
	return &MemStorage{
		links:      make(map[string]*entity.LinkRecord),
		sessions:   make(map[string]*entity.AccessSession),
		pairs:      make(map[pair]string),
		challenges: make(map[pair]*entity.Challenge),
		principals: make(map[int64]*entity.Principal),
	}
}

func (s *MemStorage) Durable() bool {
	return false
}

func (s *MemStorage) Close(_ context.Context) error {
	return nil
}

// --- Links ---

func copyLink(l *entity.LinkRecord) *entity.LinkRecord {
	c := *l
	c.UniquePrincipals = slices.Clone(l.UniquePrincipals)
	if c.UniquePrincipals == nil {
		c.UniquePrincipals = []int64{}
	}
	return &c
}

func (s *MemStorage) InsertLink(_ context.Context, link *entity.LinkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.links[link.Id]; exists {
		return entity.ErrDuplicate
	}
	s.links[link.Id] = copyLink(link)
	return nil
}

func (s *MemStorage) GetLink(_ context.Context, id string) (*entity.LinkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[id]
	if !ok {
		return nil, entity.ErrLinkNotFound
	}
	return copyLink(link), nil
}

func (s *MemStorage) RecordLinkAccess(_ context.Context, id string, principal int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return entity.ErrLinkNotFound
	}
	link.AccessCount++
	if !slices.Contains(link.UniquePrincipals, principal) {
		link.UniquePrincipals = append(link.UniquePrincipals, principal)
	}
	link.LastAccessed = &at
	return nil
}

func (s *MemStorage) DeactivateLink(_ context.Context, id string, at time.Time) (*entity.LinkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return nil, entity.ErrLinkNotFound
	}
	if !link.Active {
		return nil, entity.ErrConflict
	}
	link.Active = false
	link.RevokedAt = &at
	return copyLink(link), nil
}

func (s *MemStorage) LinksByOwner(_ context.Context, owner int64) ([]*entity.LinkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var links []*entity.LinkRecord
	for _, l := range s.links {
		if l.Owner == owner {
			links = append(links, copyLink(l))
		}
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
	return links, nil
}

func (s *MemStorage) DeleteLinksBefore(_ context.Context, createdBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, l := range s.links {
		if l.CreatedAt.Before(createdBefore) {
			delete(s.links, id)
			n++
		}
	}
	return n, nil
}

// --- Sessions ---

func (s *MemStorage) ReplaceSession(_ context.Context, as *entity.AccessSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pair{as.Principal, as.LinkId}
	if old, ok := s.pairs[key]; ok {
		delete(s.sessions, old)
	}
	c := *as
	s.sessions[as.Token] = &c
	s.pairs[key] = as.Token
	return nil
}

func (s *MemStorage) GetSession(_ context.Context, token string) (*entity.AccessSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	as, ok := s.sessions[token]
	if !ok {
		return nil, entity.ErrSessionNotFound
	}
	c := *as
	return &c, nil
}

func (s *MemStorage) UpdateSession(_ context.Context, token string, cond session.Condition, change session.Change) (*entity.AccessSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	as, ok := s.sessions[token]
	if !ok {
		return nil, entity.ErrSessionNotFound
	}
	if as.State != cond.State {
		return nil, entity.ErrConflict
	}
	if !cond.LiveAt.IsZero() && !as.LiveAt(cond.LiveAt) {
		return nil, entity.ErrConflict
	}
	if cond.MaxAttempts > 0 && as.Attempts >= cond.MaxAttempts {
		return nil, entity.ErrConflict
	}

	at := change.At
	switch change.State {
	case entity.SessionVerified:
		as.VerifiedAt = &at
	case entity.SessionConsumed:
		as.ConsumedAt = &at
	}
	if change.State != "" {
		as.State = change.State
	}
	if change.IncAttempts {
		as.Attempts++
	}
	c := *as
	return &c, nil
}

func (s *MemStorage) DeleteSessionsBefore(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, as := range s.sessions {
		if !as.LiveAt(now) {
			delete(s.sessions, token)
			key := pair{as.Principal, as.LinkId}
			if s.pairs[key] == token {
				delete(s.pairs, key)
			}
			n++
		}
	}
	return n, nil
}

// --- Challenges ---

func (s *MemStorage) ReplaceChallenge(_ context.Context, c *entity.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := *c
	s.challenges[pair{c.Principal, c.LinkId}] = &cc
	return nil
}

func (s *MemStorage) TakeChallenge(_ context.Context, principal int64, linkId string) (*entity.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pair{principal, linkId}
	c, ok := s.challenges[key]
	if !ok {
		return nil, entity.ErrChallengeNotFound
	}
	delete(s.challenges, key)
	return c, nil
}

func (s *MemStorage) DeleteChallengesBefore(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, c := range s.challenges {
		if !now.Before(c.ExpiresAt) {
			delete(s.challenges, key)
			n++
		}
	}
	return n, nil
}

// CountChallenges returns the number of stored challenges for the pair.
func (s *MemStorage) CountChallenges(principal int64, linkId string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.challenges[pair{principal, linkId}]; ok {
		return 1
	}
	return 0
}

// --- Principals ---

func (s *MemStorage) TouchPrincipal(_ context.Context, p *entity.Principal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.principals[p.Id]
	if !ok {
		existing = &entity.Principal{Id: p.Id, JoinedAt: at}
		s.principals[p.Id] = existing
	}
	if p.Username != "" {
		existing.Username = p.Username
	}
	if p.FirstName != "" {
		existing.FirstName = p.FirstName
	}
	existing.LastActive = at
	existing.MessageCount++
	return nil
}

func (s *MemStorage) IncrementCounter(_ context.Context, principal int64, counter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[principal]
	if !ok {
		p = &entity.Principal{Id: principal}
		s.principals[principal] = p
	}
	switch counter {
	case entity.CounterLinks:
		p.TotalLinks++
	case entity.CounterVerifications:
		p.TotalVerifications++
	}
	return nil
}

func (s *MemStorage) GetPrincipal(_ context.Context, id int64) (*entity.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, entity.ErrPrincipalNotFound
	}
	c := *p
	return &c, nil
}

// RecentPrincipals returns principals by last activity, newest first; limit <= 0 returns all.
func (s *MemStorage) RecentPrincipals(_ context.Context, limit int) ([]*entity.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*entity.Principal, 0, len(s.principals))
	for _, p := range s.principals {
		c := *p
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastActive.After(list[j].LastActive)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *MemStorage) SaveAccessEvent(_ context.Context, e *entity.AccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

func (s *MemStorage) AccessEvents() []entity.AccessEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

func (s *MemStorage) Stats(_ context.Context, now time.Time) (*entity.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &entity.Stats{
		Users: int64(len(s.principals)),
		Links: int64(len(s.links)),
	}
	dayAgo := now.Add(-24 * time.Hour)
	for _, p := range s.principals {
		if p.LastActive.After(dayAgo) {
			stats.ActiveToday++
		}
	}
	for _, as := range s.sessions {
		if !as.State.Terminal() && as.LiveAt(now) {
			stats.Sessions++
		}
	}
	return stats, nil
}
