/*
File: internal/realtime/device_handler.go
Description: Lifecycle of one device-side connection: validate the
device-scoped credential, register with the registry (first-registered
wins), then hold the transport open until it closes. Deregistration runs
unconditionally on every exit path.
*/
package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-intercom-relay/internal/admission"
	"github.com/tinywideclouds/go-intercom-relay/internal/metrics"
	"github.com/tinywideclouds/go-intercom-relay/internal/registry"
	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

// deviceHandler upgrades a device connection and manages its lifecycle.
func (s *RelayServer) deviceHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade device connection.")
		return
	}
	transport := newWSTransport(conn)
	defer s.recoverToClose(transport)
	defer conn.Close()

	params := admission.ParamsFromQuery(r.URL.Query())
	deviceID, rej := s.validator.ValidateDevice(r.Context(), params)
	if rej != nil {
		s.metrics.Inc(metrics.EventDeviceRejected)
		s.logger.Warn().Err(rej).Msg("Device admission failed.")
		_ = transport.CloseWithReason(rej.Reason)
		return
	}

	log := s.logger.With().Stringer("device", deviceID).Logger()

	if err := s.registry.Register(deviceID, transport); err != nil {
		// First-registered wins: the prior connection is never evicted.
		s.metrics.Inc(metrics.EventDeviceRejected)
		log.Warn().Err(err).Msg("Device registration rejected.")
		_ = transport.CloseWithReason(relay.ReasonAlreadyConnected)
		return
	}
	defer func() {
		s.registry.Deregister(deviceID)
		s.mirrorDeviceOffline(deviceID)
		s.metrics.Inc(metrics.EventDeviceDisconnected)
		log.Info().Msg("Device disconnected.")
	}()

	s.metrics.Inc(metrics.EventDeviceConnected)
	s.mirrorDeviceOnline(deviceID)
	log.Info().Msg("Device connected.")

	// The device side is passive: the paired user session drives all writes through
	// the registry. The read loop only detects disconnect and keeps the
	// heartbeat deadline honest.
	stop := transport.startHeartbeat(s.heartbeat.Interval, s.heartbeat.Timeout)
	defer stop()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if isTimeout(err) {
				s.metrics.Inc(metrics.EventHeartbeatTimeouts)
				log.Warn().Msg("Device heartbeat timed out.")
				_ = transport.CloseWithReason(relay.ReasonHeartbeatTimeout)
			}
			return
		}
	}
}

func (s *RelayServer) mirrorDeviceOnline(deviceID relay.DeviceID) {
	if s.mirror == nil {
		return
	}
	info := relay.ConnectionInfo{
		ServerInstanceID: s.instanceID,
		ConnectedAt:      time.Now().Unix(),
	}
	if err := s.mirror.DeviceOnline(context.Background(), deviceID, info); err != nil {
		s.logger.Error().Err(err).Stringer("device", deviceID).Msg("Failed to mirror device presence.")
	}
}

func (s *RelayServer) mirrorDeviceOffline(deviceID relay.DeviceID) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.DeviceOffline(context.Background(), deviceID); err != nil {
		s.logger.Error().Err(err).Stringer("device", deviceID).Msg("Failed to clear mirrored device presence.")
	}
}

// ensure the transport satisfies the registry contract.
var _ registry.DeviceTransport = (*wsTransport)(nil)
