package countdown

import (
	"sync"
	"time"
)

// ManualClock is a Clock whose time only moves when Advance is called. Useful for tests and demos.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *manualTicker
	// read is closed by the first Now call after a tick is delivered.
	read chan struct{}
}

type manualTicker struct {
	ch       chan time.Time
	stopOnce sync.Once
	stopped  chan struct{}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.read != nil {
		close(m.read)
		m.read = nil
	}
	return m.now
}

func (m *ManualClock) NewTicker(time.Duration) Ticker {
	t := &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
	m.mu.Lock()
	m.ticker = t
	m.mu.Unlock()
	return t
}

// Advance moves the clock forward by d and delivers one tick to the active ticker.
// It waits up to a second for a ticker to exist and returns false if none consumed the tick.
// A delivered tick is not complete until the receiver has read the clock, so the
// next Advance cannot move time under a tick that is still being handled.
func (m *ManualClock) Advance(d time.Duration) bool {
	deadline := time.Now().Add(time.Second)
	var t *manualTicker
	for {
		m.mu.Lock()
		t = m.ticker
		m.mu.Unlock()
		if t != nil {
			break
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}

	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	read := make(chan struct{})
	m.read = read
	m.mu.Unlock()

	select {
	case t.ch <- now:
	case <-t.stopped:
		m.dropRead(read)
		return false
	case <-time.After(time.Second):
		m.dropRead(read)
		return false
	}

	select {
	case <-read:
	case <-t.stopped:
	case <-time.After(time.Second):
		m.dropRead(read)
	}
	return true
}

func (m *ManualClock) dropRead(read chan struct{}) {
	m.mu.Lock()
	if m.read == read {
		m.read = nil
	}
	m.mu.Unlock()
}
