package relay

import (
	"context"
)

// IdentityVerifier is the narrow contract against the external identity and
// authorization service. The relay never inspects credentials itself beyond
// presence checks; all trust decisions are delegated through this interface
// so the real provider can be substituted without touching the relay core.
type IdentityVerifier interface {
	// VerifyUserToken validates a user session token and returns the stable
	// user identifier it was issued to.
	VerifyUserToken(ctx context.Context, token string) (string, error)

	// VerifyDeviceToken validates a device-scoped credential and returns the
	// device identifier it was issued to. Devices authenticate as themselves,
	// never as a user.
	VerifyDeviceToken(ctx context.Context, token string) (DeviceID, error)

	// OwnsDevice reports whether the authenticated user is entitled to the
	// target device.
	OwnsDevice(ctx context.Context, userID string, deviceID DeviceID) (bool, error)
}

// Mirror receives registry lifecycle events so that presence can be observed
// outside the relay process (dashboards, future multi-instance work). The
// in-memory registry stays authoritative: mirror failures are logged and
// never influence admission decisions.
type Mirror interface {
	DeviceOnline(ctx context.Context, deviceID DeviceID, info ConnectionInfo) error
	DeviceOffline(ctx context.Context, deviceID DeviceID) error
	SessionClaimed(ctx context.Context, session SessionInfo) error
	SessionReleased(ctx context.Context, deviceID DeviceID) error
}

// ServiceDependencies is the container of external collaborators handed to
// the service wiring. Fakes stand in for both during local development.
type ServiceDependencies struct {
	Identity IdentityVerifier
	Mirror   Mirror
}
