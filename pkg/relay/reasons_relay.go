package relay

import "github.com/gorilla/websocket"

// CloseReason is the application-level close code and short text delivered to
// a peer when the relay rejects or terminates its connection. The text is the
// whole user-visible error surface: short enough for a close frame, specific
// enough that a client can decide whether to retry or back off.
type CloseReason struct {
	Code int
	Text string
}

// Rejection and termination reasons. State conflicts (already connected,
// busy) are deliberately distinct from authentication and authorization
// failures; clients back off on the former and re-authenticate on the latter.
var (
	ReasonBadRequest       = CloseReason{websocket.ClosePolicyViolation, "missing or malformed token/deviceId"}
	ReasonAuthFailed       = CloseReason{websocket.ClosePolicyViolation, "authentication failed"}
	ReasonForbidden        = CloseReason{websocket.ClosePolicyViolation, "forbidden: device not owned"}
	ReasonAlreadyConnected = CloseReason{websocket.ClosePolicyViolation, "device already connected"}
	ReasonNotReachable     = CloseReason{websocket.ClosePolicyViolation, "device not reachable"}
	ReasonDeviceBusy       = CloseReason{websocket.ClosePolicyViolation, "device busy"}
	ReasonPeerDisconnected = CloseReason{websocket.CloseInternalServerErr, "peer disconnected"}
	ReasonInvalidEndpoint  = CloseReason{websocket.ClosePolicyViolation, "invalid endpoint, use /device or /user"}
	ReasonHeartbeatTimeout = CloseReason{websocket.ClosePolicyViolation, "heartbeat timeout"}
	ReasonShuttingDown     = CloseReason{websocket.CloseGoingAway, "server shutting down"}
	ReasonInternalError    = CloseReason{websocket.CloseInternalServerErr, "internal error"}
)
