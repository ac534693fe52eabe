// Package metrics provides the relay's in-process event counters.
package metrics

import "sync"

// Metrics is a concurrency-safe registry of named event counters. Counting
// is the hot path; everything else (snapshotting, exposition) copies.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// Event names incremented by the relay's handlers.
const (
	EventDeviceConnected    = "device_connected"
	EventDeviceDisconnected = "device_disconnected"
	EventDeviceRejected     = "device_rejected"
	EventUserConnected      = "user_connected"
	EventUserDisconnected   = "user_disconnected"
	EventUserRejected       = "user_rejected"
	EventFramesForwarded    = "frames_forwarded"
	EventForwardFailures    = "forward_failures"
	EventInvalidEndpoint    = "invalid_endpoint"
	EventHeartbeatTimeouts  = "heartbeat_timeouts"
)

func New() *Metrics {
	return &Metrics{counters: make(map[string]uint64)}
}

// Inc adds one to the named counter. A nil receiver is a no-op so callers
// can run without metrics wired.
func (m *Metrics) Inc(event string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters[event]++
	m.mu.Unlock()
}

// Add adds n to the named counter.
func (m *Metrics) Add(event string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters[event] += n
	m.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		snap[k] = v
	}
	return snap
}

// Get returns the current value of one counter.
func (m *Metrics) Get(event string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[event]
}
