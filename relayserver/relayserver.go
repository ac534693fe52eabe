/*
File: relayserver/relayserver.go
Description: Wires up the whole relay service: the connection registry, the
admission validator, the WebSocket relay server, and the ops HTTP server
(device list, health, metrics).
*/
// Package relayserver assembles the intercom relay's components.
package relayserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-intercom-relay/internal/admission"
	"github.com/tinywideclouds/go-intercom-relay/internal/api"
	"github.com/tinywideclouds/go-intercom-relay/internal/metrics"
	"github.com/tinywideclouds/go-intercom-relay/internal/realtime"
	"github.com/tinywideclouds/go-intercom-relay/internal/registry"
	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
	"github.com/tinywideclouds/go-intercom-relay/relayserver/config"
)

// Wrapper owns the ops HTTP server and exposes the relay server it wires up.
type Wrapper struct {
	opsServer *http.Server
	relaySrv  *realtime.RelayServer
	registry  *registry.Registry
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New creates and wires up the entire relay service.
func New(
	cfg *config.AppConfig,
	dependencies *relay.ServiceDependencies,
	logger zerolog.Logger,
) (*Wrapper, error) {
	if dependencies == nil || dependencies.Identity == nil {
		return nil, fmt.Errorf("identity verifier dependency is required")
	}

	m := metrics.New()
	reg := registry.New(logger)
	validator := admission.New(dependencies.Identity, reg)

	relaySrv, err := realtime.NewRelayServer(
		cfg.RelayPort,
		reg,
		validator,
		dependencies.Mirror,
		m,
		realtime.HeartbeatConfig{
			Interval: cfg.HeartbeatInterval,
			Timeout:  cfg.HeartbeatTimeout,
		},
		logger.With().Str("component", "Relay").Logger(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay server: %w", err)
	}

	apiHandler := api.NewAPI(reg, dependencies.Identity, logger)
	authMiddleware := api.NewAuthMiddleware(dependencies.Identity, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /api/devices", authMiddleware(http.HandlerFunc(apiHandler.DevicesHandler)))
	mux.HandleFunc("GET /healthz", apiHandler.HealthzHandler)
	mux.Handle("GET /metrics", metrics.PrometheusHandler(m))

	return &Wrapper{
		opsServer: &http.Server{Addr: ":" + cfg.OpsPort, Handler: mux},
		relaySrv:  relaySrv,
		registry:  reg,
		metrics:   m,
		logger:    logger,
	}, nil
}

// RelayServer returns the wired WebSocket relay server; the application
// lifecycle starts and stops it alongside the ops server.
func (w *Wrapper) RelayServer() *realtime.RelayServer {
	return w.relaySrv
}

// Start runs the ops HTTP server.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info().Str("addr", w.opsServer.Addr).Msg("Ops HTTP server starting...")
	if err := w.opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the ops HTTP server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down ops HTTP server...")
	if err := w.opsServer.Shutdown(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Ops server shutdown failed.")
		return err
	}
	return nil
}
