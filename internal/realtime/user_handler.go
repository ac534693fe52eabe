/*
File: internal/realtime/user_handler.go
Description: Lifecycle of one user-side connection: full admission, an
atomic claim on the target device, then a relay loop piping every inbound
frame to the paired device. The claim is released exactly once on every
exit path, clean or not.
*/
package realtime

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/tinywideclouds/go-intercom-relay/internal/admission"
	"github.com/tinywideclouds/go-intercom-relay/internal/metrics"
	"github.com/tinywideclouds/go-intercom-relay/internal/registry"
	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

// userHandler upgrades a user connection and manages its relay session.
func (s *RelayServer) userHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade user connection.")
		return
	}
	transport := newWSTransport(conn)
	defer s.recoverToClose(transport)
	defer conn.Close()

	s.userConns.Store(transport, struct{}{})
	defer s.userConns.Delete(transport)

	params := admission.ParamsFromQuery(r.URL.Query())
	adm, rej := s.validator.ValidateUser(r.Context(), params)
	if rej != nil {
		s.metrics.Inc(metrics.EventUserRejected)
		s.logger.Warn().Err(rej).Msg("User admission failed.")
		_ = transport.CloseWithReason(rej.Reason)
		return
	}

	log := s.logger.With().
		Str("user", adm.UserID).
		Stringer("device", adm.DeviceID).
		Logger()

	// The busy flag plus this atomic check-and-set is the entire
	// concurrency control protecting one-user-per-device: of two
	// near-simultaneous claims exactly one can succeed.
	session, err := s.registry.Claim(adm.DeviceID, adm.UserID)
	if err != nil {
		s.metrics.Inc(metrics.EventUserRejected)
		log.Warn().Err(err).Msg("Device claim failed.")
		_ = transport.CloseWithReason(claimReason(err))
		return
	}
	defer func() {
		// A stale release (device churned, another user claimed the fresh
		// registration) must not clear the live claim, here or in the mirror.
		if s.registry.Release(adm.DeviceID, session.SessionID) {
			s.mirrorSessionReleased(adm.DeviceID)
		}
		s.metrics.Inc(metrics.EventUserDisconnected)
		log.Info().Str("session", session.SessionID).Msg("Relay session ended.")
	}()

	s.metrics.Inc(metrics.EventUserConnected)
	s.mirrorSessionClaimed(session)
	log.Info().Str("session", session.SessionID).Msg("Relay session started.")

	stop := transport.startHeartbeat(s.heartbeat.Interval, s.heartbeat.Timeout)
	defer stop()

	// Forward every inbound frame verbatim, in order.
	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				s.metrics.Inc(metrics.EventHeartbeatTimeouts)
				log.Warn().Msg("User heartbeat timed out.")
				_ = transport.CloseWithReason(relay.ReasonHeartbeatTimeout)
			}
			return
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		if err := s.registry.Send(adm.DeviceID, session.SessionID, messageType, frame); err != nil {
			// The device dropped mid-session; the user must not hang.
			s.metrics.Inc(metrics.EventForwardFailures)
			log.Warn().Err(err).Msg("Forwarding to device failed, closing user session.")
			_ = transport.CloseWithReason(relay.ReasonPeerDisconnected)
			return
		}
		s.metrics.Inc(metrics.EventFramesForwarded)
	}
}

// claimReason maps a lost claim race to its close reason. Validation has
// already passed, so the device either vanished or was claimed in between.
func claimReason(err error) relay.CloseReason {
	switch {
	case errors.Is(err, registry.ErrNotOnline):
		return relay.ReasonNotReachable
	case errors.Is(err, registry.ErrAlreadyBusy):
		return relay.ReasonDeviceBusy
	default:
		return relay.ReasonInternalError
	}
}

func (s *RelayServer) mirrorSessionClaimed(session relay.SessionInfo) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.SessionClaimed(context.Background(), session); err != nil {
		s.logger.Error().Err(err).Stringer("device", session.DeviceID).Msg("Failed to mirror session claim.")
	}
}

func (s *RelayServer) mirrorSessionReleased(deviceID relay.DeviceID) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.SessionReleased(context.Background(), deviceID); err != nil {
		s.logger.Error().Err(err).Stringer("device", deviceID).Msg("Failed to clear mirrored session.")
	}
}
