/*
File: internal/realtime/server.go
Description: The transport listener. Accepts inbound WebSocket connections
on the device-facing and user-facing paths, dispatches to the matching
channel handler, and converts every admission failure or handler panic into
a connection close with a reason.
*/
// Package realtime implements the relay's WebSocket listener and the
// per-connection device and user channel handlers.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-intercom-relay/internal/admission"
	"github.com/tinywideclouds/go-intercom-relay/internal/metrics"
	"github.com/tinywideclouds/go-intercom-relay/internal/registry"
	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

// Paths served by the listener. Everything else is rejected before any
// parameter parsing.
const (
	DevicePath = "/v1/device"
	UserPath   = "/v1/user"
)

// HeartbeatConfig bounds how long a silent connection survives.
type HeartbeatConfig struct {
	// Interval between server pings.
	Interval time.Duration
	// Timeout closes the connection when no pong (or any read) arrives
	// within it. Must exceed Interval.
	Timeout time.Duration
}

// WithDefaults fills unset heartbeat fields.
func (c HeartbeatConfig) WithDefaults() HeartbeatConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * c.Interval
	}
	return c
}

// RelayServer pairs device and user WebSocket connections. It runs its own
// dedicated HTTP server on one listening port.
type RelayServer struct {
	server    *http.Server
	upgrader  websocket.Upgrader
	registry  *registry.Registry
	validator *admission.Validator
	mirror    relay.Mirror
	metrics   *metrics.Metrics
	heartbeat HeartbeatConfig
	logger    zerolog.Logger

	instanceID string
	// userConns tracks live user transports so shutdown can close them;
	// device transports are closed through the registry.
	userConns sync.Map // *wsTransport -> struct{}
}

// NewRelayServer creates and wires up the relay's WebSocket listener.
func NewRelayServer(
	port string,
	reg *registry.Registry,
	validator *admission.Validator,
	mirror relay.Mirror,
	m *metrics.Metrics,
	heartbeat HeartbeatConfig,
	logger zerolog.Logger,
) (*RelayServer, error) {
	if reg == nil || validator == nil {
		return nil, fmt.Errorf("registry and validator are required")
	}

	instanceID := uuid.NewString()
	s := &RelayServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Implement a real origin check
				return true
			},
		},
		registry:   reg,
		validator:  validator,
		mirror:     mirror,
		metrics:    m,
		heartbeat:  heartbeat.WithDefaults(),
		logger:     logger.With().Str("component", "RelayServer").Str("instance", instanceID).Logger(),
		instanceID: instanceID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DevicePath, s.deviceHandler)
	mux.HandleFunc(UserPath, s.userHandler)
	mux.HandleFunc("/", s.invalidEndpointHandler)
	s.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	return s, nil
}

// Handler exposes the listener's mux for tests.
func (s *RelayServer) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server accepting relay connections.
func (s *RelayServer) Start(ctx context.Context) error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Relay WebSocket server starting...")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay websocket server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and closes every live transport with
// a going-away reason. Cleanup of registry state runs through each handler's
// normal close path.
func (s *RelayServer) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down relay service...")
	var finalErr error

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Relay HTTP server shutdown failed.")
		finalErr = err
	}

	s.userConns.Range(func(key, _ any) bool {
		if transport, ok := key.(*wsTransport); ok {
			_ = transport.CloseWithReason(relay.ReasonShuttingDown)
		}
		return true
	})
	s.registry.CloseAll(relay.ReasonShuttingDown)

	s.logger.Info().Msg("Relay service shut down.")
	return finalErr
}

// invalidEndpointHandler is the outermost admission gate: any unrecognized
// path is upgraded only so the close reason is observable, then rejected
// immediately. No parameters are parsed, no registry state is touched.
func (s *RelayServer) invalidEndpointHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.metrics.Inc(metrics.EventInvalidEndpoint)
	s.logger.Warn().Str("path", r.URL.Path).Msg("Rejected connection on unknown path.")
	_ = newWSTransport(conn).CloseWithReason(relay.ReasonInvalidEndpoint)
}

// recoverToClose converts a handler panic into a best-effort close so a
// single connection's failure can never take the relay process down. It is
// deferred first in each handler, so the handler's own deferred registry
// cleanup has already run by the time the panic is recovered here: no
// partial registration survives an aborted handshake.
func (s *RelayServer) recoverToClose(transport *wsTransport) {
	if p := recover(); p != nil {
		s.metrics.Inc(metrics.EventForwardFailures)
		s.logger.Error().Interface("panic", p).Msg("Connection handler panicked.")
		_ = transport.CloseWithReason(relay.ReasonInternalError)
	}
}
