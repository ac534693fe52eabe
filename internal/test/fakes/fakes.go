// Package fakes provides in-memory test doubles (fakes) for the relay's
// external collaborators. These are used in the local dev entrypoint and in
// integration tests.
package fakes

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

// --- Identity ---

// ErrUnknownToken is returned for any credential the fake was not seeded with.
var ErrUnknownToken = errors.New("unknown token")

// Identity is an in-memory relay.IdentityVerifier seeded with static tokens
// and ownership grants.
type Identity struct {
	mu           sync.Mutex
	userTokens   map[string]string
	deviceTokens map[string]relay.DeviceID
	ownership    map[string]map[relay.DeviceID]bool
	verifyCalls  int
	logger       zerolog.Logger
}

func NewIdentity(logger zerolog.Logger) *Identity {
	return &Identity{
		userTokens:   make(map[string]string),
		deviceTokens: make(map[string]relay.DeviceID),
		ownership:    make(map[string]map[relay.DeviceID]bool),
		logger:       logger.With().Str("component", "FakeIdentity").Logger(),
	}
}

// AddUser seeds a user session token.
func (f *Identity) AddUser(token, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userTokens[token] = userID
}

// AddDevice seeds a device-scoped credential.
func (f *Identity) AddDevice(token string, deviceID relay.DeviceID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceTokens[token] = deviceID
}

// GrantOwnership entitles a user to a device.
func (f *Identity) GrantOwnership(userID string, deviceID relay.DeviceID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ownership[userID] == nil {
		f.ownership[userID] = make(map[relay.DeviceID]bool)
	}
	f.ownership[userID][deviceID] = true
}

func (f *Identity) VerifyUserToken(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	userID, ok := f.userTokens[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return userID, nil
}

func (f *Identity) VerifyDeviceToken(_ context.Context, token string) (relay.DeviceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	deviceID, ok := f.deviceTokens[token]
	if !ok {
		return 0, ErrUnknownToken
	}
	return deviceID, nil
}

func (f *Identity) OwnsDevice(_ context.Context, userID string, deviceID relay.DeviceID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownership[userID][deviceID], nil
}

// VerifyCalls reports how many token verifications have run; tests use it to
// assert that malformed input short-circuits before authentication.
func (f *Identity) VerifyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls
}

// --- Presence mirror ---

// Mirror is an in-memory relay.Mirror recording the last published state.
type Mirror struct {
	mu       sync.Mutex
	online   map[relay.DeviceID]relay.ConnectionInfo
	sessions map[relay.DeviceID]relay.SessionInfo
	failWith error
	logger   zerolog.Logger
}

func NewMirror(logger zerolog.Logger) *Mirror {
	return &Mirror{
		online:   make(map[relay.DeviceID]relay.ConnectionInfo),
		sessions: make(map[relay.DeviceID]relay.SessionInfo),
		logger:   logger.With().Str("component", "FakeMirror").Logger(),
	}
}

// FailWith makes every subsequent mirror call return err. Tests use it to
// verify that mirror failures never affect admission decisions.
func (f *Mirror) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *Mirror) DeviceOnline(_ context.Context, deviceID relay.DeviceID, info relay.ConnectionInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.online[deviceID] = info
	return nil
}

func (f *Mirror) DeviceOffline(_ context.Context, deviceID relay.DeviceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.online, deviceID)
	return nil
}

func (f *Mirror) SessionClaimed(_ context.Context, session relay.SessionInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.sessions[session.DeviceID] = session
	return nil
}

func (f *Mirror) SessionReleased(_ context.Context, deviceID relay.DeviceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.sessions, deviceID)
	return nil
}

// IsOnline reports the mirrored online state of a device.
func (f *Mirror) IsOnline(deviceID relay.DeviceID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.online[deviceID]
	return ok
}

// Session returns the mirrored session for a device, if any.
func (f *Mirror) Session(deviceID relay.DeviceID) (relay.SessionInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[deviceID]
	return s, ok
}
