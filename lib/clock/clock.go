package clock

import (
	"sync"
	"time"
)

const layout = "2006-01-02T15:04:05Z"

// Clock is the time source of every TTL decision.
type Clock interface {
	Now() time.Time
}

type system struct{}

func (system) Now() time.Time {
	return time.Now().UTC()
}

// System returns the wall clock in UTC.
func System() Clock {
	return system{}
}

// Now returns the current time formatted for API responses
func Now() string {
	return Format(time.Now())
}

func Format(t time.Time) string {
	return t.UTC().Format(layout)
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}
