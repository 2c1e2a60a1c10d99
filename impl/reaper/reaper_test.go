package reaper

import (
	"context"
	"errors"
	"io"
	"linkgate/lib/clock"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type sweeper struct {
	mu    sync.Mutex
	name  string
	n     int64
	err   error
	calls []time.Time
}

func (s *sweeper) Name() string {
	return s.name
}

func (s *sweeper) Sweep(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, now)
	return s.n, s.err
}

func (s *sweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	sessions := &sweeper{name: "sessions", n: 2}
	broken := &sweeper{name: "challenges", err: errors.New("boom")}
	links := &sweeper{name: "links", n: 1}

	r := New(time.Minute, clk, nil, discard(), sessions, broken, links)
	assert.Equal(t, int64(3), r.Run(context.Background()))
	assert.Equal(t, []time.Time{clk.Now()}, sessions.calls)
	assert.Len(t, broken.calls, 1)
	assert.Len(t, links.calls, 1)
}

func TestStartStop(t *testing.T) {
	s := &sweeper{name: "sessions"}
	r := New(10*time.Millisecond, nil, nil, discard(), s)
	r.Start()
	assert.Eventually(t, func() bool { return s.count() >= 2 }, time.Second, 5*time.Millisecond)
	r.Stop()
	r.Stop()

	n := s.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, s.count())
}
