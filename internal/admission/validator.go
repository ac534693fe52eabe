/*
File: internal/admission/validator.go
Description: Pure admission checks run before any registry mutation. Checks
are evaluated in a fixed order (malformed input, authentication,
authorization, online/busy state) so rejection reasons are deterministic and
the cheapest checks short-circuit first.
*/
// Package admission gates registry mutation behind connection-time checks.
package admission

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

// StateReader is the read-only view of the registry the validator consults.
type StateReader interface {
	IsOnline(deviceID relay.DeviceID) bool
	IsBusy(deviceID relay.DeviceID) bool
}

// Rejection is a typed admission failure: the close reason delivered to the
// peer plus the underlying cause for server-side logs. The reason never
// leaks internal error detail beyond its short code and message.
type Rejection struct {
	Reason relay.CloseReason
	Cause  error
}

func (r *Rejection) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("%s: %v", r.Reason.Text, r.Cause)
	}
	return r.Reason.Text
}

func reject(reason relay.CloseReason, cause error) *Rejection {
	return &Rejection{Reason: reason, Cause: cause}
}

// Params are the connection-time parameters carried on the upgrade request.
type Params struct {
	Token    string
	DeviceID string
}

// ParamsFromQuery extracts the relay's connection parameters from the
// upgrade request's query string.
func ParamsFromQuery(q url.Values) Params {
	return Params{
		Token:    q.Get("token"),
		DeviceID: q.Get("deviceId"),
	}
}

// Validator runs the admission checks for both connection classes. It is
// side-effect free aside from registry reads.
type Validator struct {
	identity relay.IdentityVerifier
	state    StateReader
}

// New creates a validator backed by the external identity service and the
// registry's read-only state.
func New(identity relay.IdentityVerifier, state StateReader) *Validator {
	return &Validator{identity: identity, state: state}
}

// ValidateDevice admits a device-side connection. The credential must be a
// device-scoped token issued for the deviceId the connection names; a valid
// token presented for a different device is an authentication failure.
// Registration conflicts are detected later, by the registry's atomic
// Register.
func (v *Validator) ValidateDevice(ctx context.Context, params Params) (relay.DeviceID, *Rejection) {
	if params.Token == "" {
		return 0, reject(relay.ReasonBadRequest, fmt.Errorf("missing token"))
	}
	deviceID, err := relay.ParseDeviceID(params.DeviceID)
	if err != nil {
		return 0, reject(relay.ReasonBadRequest, err)
	}

	tokenDeviceID, err := v.identity.VerifyDeviceToken(ctx, params.Token)
	if err != nil {
		return 0, reject(relay.ReasonAuthFailed, err)
	}
	if tokenDeviceID != deviceID {
		return 0, reject(relay.ReasonAuthFailed,
			fmt.Errorf("credential issued for device %s, connection names %s", tokenDeviceID, deviceID))
	}
	return deviceID, nil
}

// UserAdmission is the outcome of a successful user-side validation.
type UserAdmission struct {
	UserID   string
	DeviceID relay.DeviceID
}

// ValidateUser admits a user-side connection: token and deviceId
// well-formedness, user authentication, device ownership, then the online
// and busy state checks. Passing validation does not claim the device; the
// handler must still win the registry's atomic Claim.
func (v *Validator) ValidateUser(ctx context.Context, params Params) (UserAdmission, *Rejection) {
	if params.Token == "" {
		return UserAdmission{}, reject(relay.ReasonBadRequest, fmt.Errorf("missing token"))
	}
	deviceID, err := relay.ParseDeviceID(params.DeviceID)
	if err != nil {
		return UserAdmission{}, reject(relay.ReasonBadRequest, err)
	}

	userID, err := v.identity.VerifyUserToken(ctx, params.Token)
	if err != nil {
		return UserAdmission{}, reject(relay.ReasonAuthFailed, err)
	}

	owns, err := v.identity.OwnsDevice(ctx, userID, deviceID)
	if err != nil {
		return UserAdmission{}, reject(relay.ReasonInternalError, fmt.Errorf("ownership check: %w", err))
	}
	if !owns {
		return UserAdmission{}, reject(relay.ReasonForbidden,
			fmt.Errorf("user %s does not own device %s", userID, deviceID))
	}

	if !v.state.IsOnline(deviceID) {
		return UserAdmission{}, reject(relay.ReasonNotReachable, nil)
	}
	if v.state.IsBusy(deviceID) {
		return UserAdmission{}, reject(relay.ReasonDeviceBusy, nil)
	}

	return UserAdmission{UserID: userID, DeviceID: deviceID}, nil
}
