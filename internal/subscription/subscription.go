// Package subscription tracks a query's subscriber count and enabled flag,
// and emits the lifecycle events the fetch coordinator and scheduler react
// to: first subscribe, later subscribes (possibly throttled), and last
// unsubscribe. See spec.md §4.1.
package subscription

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Events is the set of callbacks the Manager invokes. Any nil callback is
// simply skipped.
type Events struct {
	OnFirstSubscribe func()
	OnSubscribe      func(isFirst, shouldThrottle bool)
	OnLastUnsubscribe func()
}

// Manager tracks {subscriptionCount, enabled} plus the
// disableAutoRefetching configuration flag from spec.md §4.1.
type Manager struct {
	events Events

	// mu guards count/enabled: clock.Real's time.AfterFunc runs its
	// callback on its own goroutine (fetchcoord.Coordinator's scheduled
	// refetch/retry), which reads Count()/Enabled() concurrently with
	// Subscribe()/SetEnabled() calls from the caller's goroutine.
	mu      sync.Mutex
	count   int
	enabled bool

	// throttle skips its callback for any call within 500ms of the last
	// call whose callback ran. A throttled subscribe does not restart the
	// window, so it is measured from the last unthrottled subscribe, not
	// from the immediately preceding one. Using
	// rate.Sometimes here (rather than hand-rolling a lastSubscribeAt
	// comparison) is grounded in golang.org/x/time/rate, already a
	// transitive dependency of the teacher's asynq stack.
	throttle *rate.Sometimes

	disableAutoRefetching bool
}

// New creates a Manager with the given initial enabled state.
func New(initialEnabled bool, disableAutoRefetching bool, events Events) *Manager {
	return &Manager{
		events:                events,
		enabled:               initialEnabled,
		throttle:              &rate.Sometimes{Interval: 500 * time.Millisecond},
		disableAutoRefetching: disableAutoRefetching,
	}
}

// Release is returned by Subscribe; calling it decrements the subscriber
// count exactly once.
type Release func()

// Subscribe registers one subscriber. If the count transitions 0→1, emits
// OnFirstSubscribe. Otherwise emits OnSubscribe(isFirst=false,
// shouldThrottle) where shouldThrottle reports whether this subscribe
// landed within 500ms of the last subscribe that was not throttled.
func (m *Manager) Subscribe() Release {
	m.mu.Lock()
	m.count++
	isFirst := m.count == 1
	var throttled bool
	if isFirst {
		// Opens the throttle window, so a second subscribe right after
		// this one is reported throttled.
		m.throttle.Do(func() {})
	} else {
		throttled = true
		m.throttle.Do(func() { throttled = false })
	}
	m.mu.Unlock()

	if isFirst {
		if m.events.OnFirstSubscribe != nil {
			m.events.OnFirstSubscribe()
		}
	} else if m.events.OnSubscribe != nil {
		m.events.OnSubscribe(false, throttled)
	}

	released := false
	return func() {
		m.mu.Lock()
		if released {
			m.mu.Unlock()
			return
		}
		released = true
		m.count--
		isLast := m.count == 0
		m.mu.Unlock()

		if isLast && m.events.OnLastUnsubscribe != nil {
			m.events.OnLastUnsubscribe()
		}
	}
}

// Count returns the current subscriber count.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Enabled returns the current enabled flag.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// DisableAutoRefetching reports the configured flag.
func (m *Manager) DisableAutoRefetching() bool {
	return m.disableAutoRefetching
}

// SetEnabled stores v. On a false→true transition with at least one active
// subscriber, it emits the same event as a first subscribe (the engine
// should start fetching as if a subscriber had just joined). A true→false
// transition emits nothing; the coordinator is expected to observe the new
// enabled state directly on its next fetch decision.
func (m *Manager) SetEnabled(v bool) {
	m.mu.Lock()
	wasEnabled := m.enabled
	m.enabled = v
	shouldFire := !wasEnabled && v && m.count > 0
	m.mu.Unlock()

	if shouldFire && m.events.OnFirstSubscribe != nil {
		m.events.OnFirstSubscribe()
	}
}
