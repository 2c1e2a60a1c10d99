// Package reaper periodically deletes records whose TTL elapsed. Read paths
// check expiry on their own; the reaper only keeps the store small.
package reaper

import (
	"context"
	"linkgate/internal/metrics"
	"linkgate/lib/clock"
	"linkgate/lib/sl"
	"log/slog"
	"sync"
	"time"
)

type Sweeper interface {
	Name() string
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

type Reaper struct {
	sweepers []Sweeper
	interval time.Duration
	clock    clock.Clock
	metrics  *metrics.Metrics
	log      *slog.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func New(interval time.Duration, clk clock.Clock, m *metrics.Metrics, log *slog.Logger, sweepers ...Sweeper) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Reaper{
		sweepers: sweepers,
		interval: interval,
		clock:    clk,
		metrics:  m,
		log:      log.With(sl.Module("reaper")),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Run(context.Background())
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Run sweeps every collection once and returns the number of deleted records.
func (r *Reaper) Run(ctx context.Context) int64 {
	now := r.clock.Now()
	var total int64
	for _, s := range r.sweepers {
		n, err := s.Sweep(ctx, now)
		if err != nil {
			r.log.With(slog.String("collection", s.Name())).Error("sweep", sl.Err(err))
			continue
		}
		if n > 0 {
			r.metrics.Reaped(s.Name(), n)
			r.log.With(slog.String("collection", s.Name()), slog.Int64("deleted", n)).Debug("swept")
		}
		total += n
	}
	return total
}

// Stop ends the ticker loop and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.done
}
