/*
File: internal/registry/registry.go
Description: The authoritative in-memory table of online devices and active
relay sessions. All cross-connection effects (claim, release, send) go
through the atomic operations defined here.
*/
// Package registry implements the process-wide connection registry.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

// Registry state-conflict errors. These are expected and frequent, not
// exceptional: callers translate them into specific close reasons.
var (
	ErrAlreadyConnected = errors.New("device already connected")
	ErrNotOnline        = errors.New("device not online")
	ErrAlreadyBusy      = errors.New("device already busy")
	ErrNotConnected     = errors.New("device not connected")
)

// DeviceTransport is the registry's exclusive handle on a device's duplex
// socket. Implementations must be safe for concurrent writers; only the
// registry and the device's own handler hold the handle.
type DeviceTransport interface {
	// WriteFrame forwards one discrete binary or text frame to the device.
	WriteFrame(messageType int, data []byte) error
	// CloseWithReason sends a close frame and tears the transport down.
	CloseWithReason(reason relay.CloseReason) error
}

type deviceEntry struct {
	transport DeviceTransport
	// sessionID of the user session currently claiming this registration;
	// empty when idle. Tying the claim to the entry (not the device key)
	// means a deregister-and-reconnect yields a fresh, unclaimed entry that
	// a stale session can neither release nor relay through.
	sessionID   string
	connectedAt time.Time
}

func (e *deviceEntry) busy() bool {
	return e.sessionID != ""
}

// Registry is the single source of truth for "is this device online" and
// "is this device busy". One mutex guards both maps; no I/O ever happens
// inside the critical section, so check-and-set operations cannot be
// interleaved by the scheduler.
type Registry struct {
	mu       sync.Mutex
	devices  map[relay.DeviceID]*deviceEntry
	sessions map[relay.DeviceID]relay.SessionInfo
	logger   zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		devices:  make(map[relay.DeviceID]*deviceEntry),
		sessions: make(map[relay.DeviceID]relay.SessionInfo),
		logger:   logger.With().Str("component", "Registry").Logger(),
	}
}

// Register adds a device connection. A second connection for the same ID is
// rejected with ErrAlreadyConnected; the first-registered transport is left
// untouched.
func (r *Registry) Register(deviceID relay.DeviceID, transport DeviceTransport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[deviceID]; exists {
		return ErrAlreadyConnected
	}
	r.devices[deviceID] = &deviceEntry{
		transport:   transport,
		connectedAt: time.Now(),
	}
	r.logger.Info().Stringer("device", deviceID).Msg("Device registered.")
	return nil
}

// Deregister removes a device connection. Idempotent: safe to call when the
// device is already gone, e.g. on a race with device churn.
func (r *Registry) Deregister(deviceID relay.DeviceID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[deviceID]; !exists {
		return
	}
	delete(r.devices, deviceID)
	r.logger.Info().Stringer("device", deviceID).Msg("Device deregistered.")
}

// IsOnline reports whether a device connection exists for deviceID.
func (r *Registry) IsOnline(deviceID relay.DeviceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.devices[deviceID]
	return exists
}

// IsBusy reports whether a user session is actively relaying through the
// device. An unknown device is never busy.
func (r *Registry) IsBusy(deviceID relay.DeviceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, exists := r.devices[deviceID]
	return exists && entry.busy()
}

// Claim atomically checks that the device is online and idle and, if both
// hold, marks it busy and records the session. Two near-simultaneous claims
// for the same idle device yield exactly one success.
func (r *Registry) Claim(deviceID relay.DeviceID, userID string) (relay.SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.devices[deviceID]
	if !exists {
		return relay.SessionInfo{}, ErrNotOnline
	}
	if entry.busy() {
		return relay.SessionInfo{}, ErrAlreadyBusy
	}

	session := relay.SessionInfo{
		SessionID: uuid.NewString(),
		DeviceID:  deviceID,
		UserID:    userID,
		ClaimedAt: time.Now().Unix(),
	}
	entry.sessionID = session.SessionID
	r.sessions[deviceID] = session
	r.logger.Info().
		Stringer("device", deviceID).
		Str("user", userID).
		Str("session", session.SessionID).
		Msg("Device claimed.")
	return session, nil
}

// Release clears the busy flag and drops the session record, but only for
// the session that holds the claim; it reports whether anything was
// released. A release carrying a stale session ID (the device churned and
// another user claimed the new registration) is a no-op. Idempotent, and
// tolerant of the device itself having already vanished from the registry.
func (r *Registry) Release(deviceID relay.DeviceID, sessionID string) bool {
	if sessionID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	released := false
	if entry, exists := r.devices[deviceID]; exists && entry.sessionID == sessionID {
		entry.sessionID = ""
		released = true
	}
	if session, exists := r.sessions[deviceID]; exists && session.SessionID == sessionID {
		delete(r.sessions, deviceID)
		released = true
	}
	if released {
		r.logger.Info().Stringer("device", deviceID).Str("session", sessionID).Msg("Device released.")
	}
	return released
}

// Send forwards one frame to the device's transport on behalf of the session
// holding the claim. The registration is verified against the session under
// the lock, so a session that lost its device to churn gets ErrNotConnected
// instead of silently rebinding to a re-registered transport it never
// claimed. The write itself happens outside the lock, so a slow device never
// stalls unrelated registry operations. A write failure propagates to the
// caller; it must close the initiating user session, never swallow it.
func (r *Registry) Send(deviceID relay.DeviceID, sessionID string, messageType int, frame []byte) error {
	if sessionID == "" {
		return ErrNotConnected
	}
	r.mu.Lock()
	entry, exists := r.devices[deviceID]
	if !exists || entry.sessionID != sessionID {
		r.mu.Unlock()
		return ErrNotConnected
	}
	transport := entry.transport
	r.mu.Unlock()

	return transport.WriteFrame(messageType, frame)
}

// Devices returns a point-in-time snapshot of all online devices.
func (r *Registry) Devices() []relay.DeviceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]relay.DeviceStatus, 0, len(r.devices))
	for id, entry := range r.devices {
		statuses = append(statuses, relay.DeviceStatus{
			DeviceID:    id,
			Busy:        entry.busy(),
			ConnectedAt: entry.connectedAt.Unix(),
		})
	}
	return statuses
}

// Sessions returns a point-in-time snapshot of active relay sessions.
func (r *Registry) Sessions() []relay.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]relay.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// CloseAll closes every device transport with the given reason. Used on
// shutdown; the handlers' own close paths perform the deregistration.
func (r *Registry) CloseAll(reason relay.CloseReason) {
	r.mu.Lock()
	transports := make([]DeviceTransport, 0, len(r.devices))
	for _, entry := range r.devices {
		transports = append(transports, entry.transport)
	}
	r.mu.Unlock()

	for _, transport := range transports {
		if err := transport.CloseWithReason(reason); err != nil {
			r.logger.Warn().Err(err).Msg("error closing device transport")
		}
	}
}
