// Package countdown implements a one-tick-per-second countdown measured against the wall clock.
package countdown

import (
	"context"
	"sync"
	"time"
)

// Ticker is the subset of *time.Ticker used by Countdown.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts time so tests can drive the countdown deterministically.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type systemClock struct{}

type systemTicker struct{ t *time.Ticker }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker { return systemTicker{t: time.NewTicker(d)} }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }

// Countdown counts down from a number of seconds and expires exactly once.
type Countdown struct {
	total int
	clock Clock

	mu        sync.Mutex
	remaining int
	expired   bool
}

// New returns a countdown of the given seconds. A nil clock uses the system clock.
func New(seconds int, clock Clock) *Countdown {
	if clock == nil {
		clock = SystemClock()
	}
	if seconds < 0 {
		seconds = 0
	}
	return &Countdown{total: seconds, clock: clock, remaining: seconds}
}

// Remaining returns the last computed number of seconds left.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Expired reports whether the countdown reached zero.
func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Run blocks until the countdown expires or ctx is cancelled.
// onTick receives each new remaining value; values may be skipped when ticks are delayed.
// onExpire is called once when zero is reached and is never called after cancellation.
func (c *Countdown) Run(ctx context.Context, onTick func(remaining int), onExpire func()) {
	start := c.clock.Now()
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		// Measure from the start instant rather than counting ticks.
		elapsed := int(c.clock.Now().Sub(start) / time.Second)
		remaining := c.total - elapsed
		if remaining < 0 {
			remaining = 0
		}
		if remaining == last {
			continue
		}
		last = remaining

		c.mu.Lock()
		c.remaining = remaining
		done := remaining == 0 && !c.expired
		if done {
			c.expired = true
		}
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if onTick != nil {
			onTick(remaining)
		}
		if done {
			if onExpire != nil {
				onExpire()
			}
			return
		}
	}
}
