// Package relay contains the public domain models, interfaces, and close
// reasons for the intercom relay service. It defines the contract for
// interacting with the service.
package relay

import (
	"errors"
	"strconv"
)

// DeviceID is the stable external identifier of an intercom device. The
// identity service issues them as positive integers; the relay treats the
// value as an opaque comparable key beyond the initial parse.
type DeviceID int64

// ErrInvalidDeviceID is returned when a connection-time deviceId parameter
// is not a positive integer.
var ErrInvalidDeviceID = errors.New("deviceId must be a positive integer")

// ParseDeviceID parses the deviceId query parameter. Anything that is not a
// well-formed positive integer is rejected before any registry lookup.
func ParseDeviceID(s string) (DeviceID, error) {
	if s == "" {
		return 0, ErrInvalidDeviceID
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidDeviceID
	}
	return DeviceID(id), nil
}

func (id DeviceID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// DeviceStatus is the ops-API view of one connected device.
type DeviceStatus struct {
	DeviceID    DeviceID `json:"deviceId"`
	Busy        bool     `json:"busy"`
	ConnectedAt int64    `json:"connectedAt"`
}

// SessionInfo describes one active user-to-device relay session.
type SessionInfo struct {
	SessionID string   `json:"sessionId"`
	DeviceID  DeviceID `json:"deviceId"`
	UserID    string   `json:"userId"`
	ClaimedAt int64    `json:"claimedAt"`
}

// ConnectionInfo holds details about a device's real-time connection, as
// published to the presence mirror.
type ConnectionInfo struct {
	ServerInstanceID string `json:"serverInstanceId"`
	ConnectedAt      int64  `json:"connectedAt"`
}
