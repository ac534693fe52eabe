/*
File: internal/platform/presence/redis.go
Description: A Redis-backed implementation of relay.Mirror. The mirror is
observational only: the in-process registry stays authoritative, and a
mirror failure never affects an admission decision.
*/
// Package presence mirrors registry lifecycle events to external stores.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Entries expire on their own so a crashed relay instance cannot leave
// devices mirrored online forever.
const entryTTL = 24 * time.Hour

// RedisMirror implements relay.Mirror on Redis. It keeps one JSON value per
// device (`relay:device:{id}`) and one per active session
// (`relay:session:{id}`).
type RedisMirror struct {
	client redisClient
	logger zerolog.Logger
}

// NewRedisMirror is the constructor for the RedisMirror.
func NewRedisMirror(client redisClient, logger zerolog.Logger) (*RedisMirror, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisMirror{
		client: client,
		logger: logger.With().Str("component", "RedisMirror").Logger(),
	}, nil
}

func deviceKey(deviceID relay.DeviceID) string {
	return "relay:device:" + deviceID.String()
}

func sessionKey(deviceID relay.DeviceID) string {
	return "relay:session:" + deviceID.String()
}

// DeviceOnline records a device's connection info.
func (m *RedisMirror) DeviceOnline(ctx context.Context, deviceID relay.DeviceID, info relay.ConnectionInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal connection info: %w", err)
	}
	if err := m.client.Set(ctx, deviceKey(deviceID), payload, entryTTL).Err(); err != nil {
		return fmt.Errorf("failed to mirror device online: %w", err)
	}
	m.logger.Debug().Stringer("device", deviceID).Msg("Mirrored device online.")
	return nil
}

// DeviceOffline clears a device's mirrored presence.
func (m *RedisMirror) DeviceOffline(ctx context.Context, deviceID relay.DeviceID) error {
	if err := m.client.Del(ctx, deviceKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to clear mirrored device: %w", err)
	}
	m.logger.Debug().Stringer("device", deviceID).Msg("Cleared mirrored device.")
	return nil
}

// SessionClaimed records an active relay session.
func (m *RedisMirror) SessionClaimed(ctx context.Context, session relay.SessionInfo) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session info: %w", err)
	}
	if err := m.client.Set(ctx, sessionKey(session.DeviceID), payload, entryTTL).Err(); err != nil {
		return fmt.Errorf("failed to mirror session claim: %w", err)
	}
	return nil
}

// SessionReleased clears an ended relay session.
func (m *RedisMirror) SessionReleased(ctx context.Context, deviceID relay.DeviceID) error {
	if err := m.client.Del(ctx, sessionKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to clear mirrored session: %w", err)
	}
	return nil
}

var _ relay.Mirror = (*RedisMirror)(nil)
