/*
File: cmd/prod/runrelayserver.go
Description: Main entrypoint for the intercom relay service. Handles config
loading, dependency injection, and starting the application.
*/
package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinywideclouds/go-intercom-relay/cmd"
	"github.com/tinywideclouds/go-intercom-relay/internal/app"
	"github.com/tinywideclouds/go-intercom-relay/internal/platform/identity"
	"github.com/tinywideclouds/go-intercom-relay/internal/platform/presence"
	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
	"github.com/tinywideclouds/go-intercom-relay/relayserver"
	"github.com/tinywideclouds/go-intercom-relay/relayserver/config"
)

func main() {
	// 1. Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "go-intercom-relay").Logger()

	// 2. Load config.yaml and apply environment overrides
	baseCfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to finalize configuration with environment overrides")
	}

	// 3. Create dependencies
	ctx := context.Background()
	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}

	// 4. Wire up the service
	service, err := relayserver.New(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create relay service")
	}

	// 5. Run the application
	app.Run(ctx, logger, service, service.RelayServer())
}

// newDependencies builds the service dependency container.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*relay.ServiceDependencies, error) {
	if cfg.RunMode == "local" {
		logger.Warn().Msg("Running in 'local' mode. All external dependencies will be faked.")
		return cmd.NewFakeDependencies(ctx, cfg, logger)
	}
	return newProdDependencies(ctx, cfg, logger)
}

// newProdDependencies creates real, production-ready dependencies.
func newProdDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*relay.ServiceDependencies, error) {
	identityClient, err := identity.NewClient(ctx, identity.Config{
		BaseURL: cfg.IdentityServiceURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}

	mirror, err := newMirror(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &relay.ServiceDependencies{
		Identity: identityClient,
		Mirror:   mirror,
	}, nil
}

// newMirror creates the pluggable presence mirror based on config.
func newMirror(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (relay.Mirror, error) {
	mirrorType := cfg.Presence.Type
	logger.Info().Str("type", mirrorType).Msg("Initializing presence mirror...")

	switch mirrorType {
	case "", config.PresenceNone:
		return nil, nil

	case config.PresenceRedis:
		redisAddr := cfg.Presence.Redis.Addr
		if redisAddr == "" {
			return nil, fmt.Errorf("presence type is redis but no address is configured (check REDIS_ADDR env var)")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr: redisAddr,
		})
		// Test the connection
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis presence mirror at %s: %w", redisAddr, err)
		}
		logger.Info().Str("addr", redisAddr).Msg("Connected to Redis presence mirror")
		return presence.NewRedisMirror(rdb, logger)

	default:
		return nil, fmt.Errorf("invalid presence type: %s (must be 'none' or 'redis')", mirrorType)
	}
}
