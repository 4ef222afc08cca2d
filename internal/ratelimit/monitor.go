package ratelimit

import (
	"sync"
	"time"
)

// Monitor tracks per-endpoint request outcomes. A run of consecutive
// failures trips the endpoint for a cooldown period, during which the pool
// prefers its siblings.
type Monitor struct {
	mu                  sync.Mutex
	requests            uint64
	successes           uint64
	failures            uint64
	consecutiveFailures int
	inFlight            int
	trippedUntil        time.Time

	tripThreshold int
	cooldown      time.Duration
	now           func() time.Time
}

// NewMonitor creates a monitor that trips after tripThreshold consecutive
// failures and recovers after cooldown.
func NewMonitor(tripThreshold int, cooldown time.Duration) *Monitor {
	if tripThreshold <= 0 {
		tripThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Second
	}
	return &Monitor{
		tripThreshold: tripThreshold,
		cooldown:      cooldown,
		now:           time.Now,
	}
}

// Begin records the start of a request.
func (m *Monitor) Begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	m.inFlight++
}

// End records the request outcome. A success resets the failure run; a
// failure extends it and may trip the endpoint.
func (m *Monitor) End(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight > 0 {
		m.inFlight--
	}
	if err == nil {
		m.successes++
		m.consecutiveFailures = 0
		return
	}
	m.failures++
	m.consecutiveFailures++
	if m.consecutiveFailures >= m.tripThreshold {
		m.trippedUntil = m.now().Add(m.cooldown)
	}
}

// Tripped reports whether the endpoint is inside a cooldown window.
func (m *Monitor) Tripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Before(m.trippedUntil)
}

// InFlight returns the number of requests currently executing.
func (m *Monitor) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Stats is a point-in-time snapshot of monitor counters.
type Stats struct {
	Requests            uint64 `json:"requests"`
	Successes           uint64 `json:"successes"`
	Failures            uint64 `json:"failures"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	InFlight            int    `json:"in_flight"`
	Tripped             bool   `json:"tripped"`
}

// Snapshot returns the current counters.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Requests:            m.requests,
		Successes:           m.successes,
		Failures:            m.failures,
		ConsecutiveFailures: m.consecutiveFailures,
		InFlight:            m.inFlight,
		Tripped:             m.now().Before(m.trippedUntil),
	}
}
