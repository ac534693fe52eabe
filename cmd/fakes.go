package cmd

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-intercom-relay/internal/test/fakes"
	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
	"github.com/tinywideclouds/go-intercom-relay/relayserver/config"
)

// NewFakeDependencies creates in-memory fakes for local development. A fixed
// set of tokens is seeded so that endpoints can be exercised with curl or a
// WebSocket client without a running identity service.
func NewFakeDependencies(_ context.Context, _ *config.AppConfig, logger zerolog.Logger) (*relay.ServiceDependencies, error) {
	identity := fakes.NewIdentity(logger)
	identity.AddUser("local-user-token", "local-user")
	identity.AddDevice("local-device-token", 1)
	identity.GrantOwnership("local-user", 1)

	return &relay.ServiceDependencies{
		Identity: identity,
		Mirror:   fakes.NewMirror(logger),
	}, nil
}
