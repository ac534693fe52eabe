package config

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlPresenceConfig struct {
	Type  string          `yaml:"type"` // "redis" or "none"
	Redis YamlRedisConfig `yaml:"redis"`
}

type YamlHeartbeatConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	TimeoutSeconds  int `yaml:"timeout_seconds"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	RunMode            string              `yaml:"run_mode"`
	RelayPort          string              `yaml:"relay_port"`
	OpsPort            string              `yaml:"ops_port"`
	IdentityServiceURL string              `yaml:"identity_service_url"`
	Presence           YamlPresenceConfig  `yaml:"presence"`
	Heartbeat          YamlHeartbeatConfig `yaml:"heartbeat"`
}
