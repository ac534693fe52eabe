/*
File: cmd/relayserver/runrelayserver.go
Description: Local development entrypoint. Runs the relay with in-memory
fakes for the identity service and presence mirror, and human-readable
console logging.
*/
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-intercom-relay/cmd"
	"github.com/tinywideclouds/go-intercom-relay/internal/app"
	"github.com/tinywideclouds/go-intercom-relay/relayserver"
	"github.com/tinywideclouds/go-intercom-relay/relayserver/config"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Str("service", "go-intercom-relay").Logger()

	baseCfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	baseCfg.RunMode = "local"
	baseCfg.Presence = config.YamlPresenceConfig{Type: config.PresenceNone}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to finalize configuration")
	}

	ctx := context.Background()
	deps, err := cmd.NewFakeDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create fake dependencies")
	}
	logger.Info().
		Str("user_token", "local-user-token").
		Str("device_token", "local-device-token").
		Msg("Seeded local credentials for device 1.")

	service, err := relayserver.New(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create relay service")
	}

	app.Run(ctx, logger, service, service.RelayServer())
}
