/*
File: relayserver/config/relay_service_config.go
Description: Two-stage configuration loading. Stage 1 maps the raw YAML
structs into a clean AppConfig; Stage 2 applies environment overrides and
final validation.
*/
package config

import (
	"fmt"
	"os"
	"time"
)

// Presence mirror backends.
const (
	PresenceNone  = "none"
	PresenceRedis = "redis"
)

// AppConfig is the canonical, validated configuration object used throughout
// the application. It is created by NewConfigFromYaml (Stage 1) and
// finalized by UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	RunMode            string
	RelayPort          string
	OpsPort            string
	IdentityServiceURL string
	Presence           YamlPresenceConfig
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
}

// NewConfigFromYaml converts the raw unmarshaled data into a base AppConfig
// struct, without environment overrides.
func NewConfigFromYaml(yamlCfg *YamlConfig) (*AppConfig, error) {
	appCfg := &AppConfig{
		RunMode:            yamlCfg.RunMode,
		RelayPort:          yamlCfg.RelayPort,
		OpsPort:            yamlCfg.OpsPort,
		IdentityServiceURL: yamlCfg.IdentityServiceURL,
		Presence:           yamlCfg.Presence,
		HeartbeatInterval:  time.Duration(yamlCfg.Heartbeat.IntervalSeconds) * time.Second,
		HeartbeatTimeout:   time.Duration(yamlCfg.Heartbeat.TimeoutSeconds) * time.Second,
	}
	return appCfg, nil
}

// UpdateConfigWithEnvOverrides completes the base configuration by applying
// environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *AppConfig) (*AppConfig, error) {
	if mode := os.Getenv("RUN_MODE"); mode != "" {
		cfg.RunMode = mode
	}
	if port := os.Getenv("RELAY_PORT"); port != "" {
		cfg.RelayPort = port
	}
	if port := os.Getenv("OPS_PORT"); port != "" {
		cfg.OpsPort = port
	}
	if idURL := os.Getenv("IDENTITY_SERVICE_URL"); idURL != "" {
		cfg.IdentityServiceURL = idURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Presence.Type = PresenceRedis
		cfg.Presence.Redis.Addr = addr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *AppConfig) validate() error {
	if cfg.RelayPort == "" {
		return fmt.Errorf("relay_port is required")
	}
	if cfg.OpsPort == "" {
		return fmt.Errorf("ops_port is required")
	}
	if cfg.IdentityServiceURL == "" && cfg.RunMode != "local" {
		return fmt.Errorf("identity_service_url is required outside local run mode")
	}
	switch cfg.Presence.Type {
	case "", PresenceNone:
	case PresenceRedis:
		if cfg.Presence.Redis.Addr == "" {
			return fmt.Errorf("presence.redis.addr is required when presence.type is %q", PresenceRedis)
		}
	default:
		return fmt.Errorf("unsupported presence.type %q", cfg.Presence.Type)
	}
	if cfg.HeartbeatTimeout != 0 && cfg.HeartbeatInterval != 0 &&
		cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout must exceed the interval")
	}
	return nil
}
