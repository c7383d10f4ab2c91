// Package connectivity tracks online/offline transitions reported by the platform.
package connectivity

import "sync"

// Monitor exposes the current connectivity state and broadcasts transitions.
// It never polls: state only changes when Set is called with a platform event.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	subscribers map[chan bool]struct{}
}

// NewMonitor initialises the monitor from the platform's connectivity signal at startup.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:      online,
		subscribers: make(map[chan bool]struct{}),
	}
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records a platform online/offline event. Only transitions are broadcast.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	for ch := range m.subscribers {
		select {
		case ch <- online:
		default:
			// Slow subscriber: drop the stale transition and keep the latest one.
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
}

// Subscribe returns a channel of transitions. The caller must invoke cancel to avoid leaks.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers returns the number of active subscriptions.
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}
