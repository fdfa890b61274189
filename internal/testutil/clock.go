package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StubClock hands out a controllable instant so committed versions and
// file entry timestamps stay reproducible across runs. Safe for
// concurrent use; upload workers read it from multiple goroutines.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock pinned to t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock is the clock most fixtures share: an arbitrary mid-morning
// instant, far enough from zero that time.IsZero checks stay meaningful.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 3, 10, 8, 15, 30, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, for tests that need successive
// versions to carry distinct timestamps.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator yields deterministic container addresses
// ("addr-0001", "addr-0002", ...) in place of random UUIDs.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("addr-%04d", g.counter)
}
