/*
File: internal/api/handlers.go
Description: Stateless HTTP handlers for the relay's ops API: the authed
device list plus health. The handlers read registry snapshots only; they
never mutate relay state.
*/
// Package api provides the relay's operational HTTP surface.
package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-intercom-relay/internal/registry"
	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

// API holds the dependencies for the stateless HTTP handlers.
type API struct {
	registry *registry.Registry
	identity relay.IdentityVerifier
	logger   zerolog.Logger
}

// NewAPI creates a new, stateless API handler.
func NewAPI(reg *registry.Registry, identity relay.IdentityVerifier, logger zerolog.Logger) *API {
	return &API{
		registry: reg,
		identity: identity,
		logger:   logger.With().Str("component", "API").Logger(),
	}
}

// deviceView is one entry of the device list response. Session details are
// included only for the caller's own active session.
type deviceView struct {
	relay.DeviceStatus
	Session *relay.SessionInfo `json:"session,omitempty"`
}

type deviceListResponse struct {
	Devices []deviceView `json:"devices"`
}

// DevicesHandler returns the online devices owned by the authenticated user.
func (a *API) DevicesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		a.logger.Warn().Msg("DevicesHandler: no user ID in context")
		WriteJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}
	log := a.logger.With().Str("user", userID).Logger()

	sessionsByDevice := make(map[relay.DeviceID]relay.SessionInfo)
	for _, session := range a.registry.Sessions() {
		sessionsByDevice[session.DeviceID] = session
	}

	owned := make([]deviceView, 0)
	for _, status := range a.registry.Devices() {
		owns, err := a.identity.OwnsDevice(r.Context(), userID, status.DeviceID)
		if err != nil {
			log.Error().Err(err).Stringer("device", status.DeviceID).Msg("Ownership lookup failed.")
			WriteJSONError(w, http.StatusInternalServerError, "failed to resolve device ownership")
			return
		}
		if !owns {
			continue
		}
		view := deviceView{DeviceStatus: status}
		if session, active := sessionsByDevice[status.DeviceID]; active && session.UserID == userID {
			view.Session = &session
		}
		owned = append(owned, view)
	}

	log.Debug().Int("count", len(owned)).Msg("Device list served.")
	WriteJSON(w, http.StatusOK, deviceListResponse{Devices: owned})
}

// HealthzHandler reports process liveness.
func (a *API) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
