// Package config defines the configuration schema for swbridge.
//
// Files are JSON with camelCase keys; a .yaml or .yml extension selects YAML
// with the same key names.
package config

// ServiceWorkerConfig controls registration of the worker script.
type ServiceWorkerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Script  string `json:"script" yaml:"script"`
	Scope   string `json:"scope,omitempty" yaml:"scope,omitempty"`
}

func defaultServiceWorkerConfig() ServiceWorkerConfig {
	return ServiceWorkerConfig{Enabled: true, Script: "ngsw-worker.js"}
}

// BridgeConfig locates the worker host.
type BridgeConfig struct {
	URL   string `json:"url" yaml:"url"`
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
	// HandshakeTimeout is in seconds.
	HandshakeTimeout int `json:"handshakeTimeout" yaml:"handshakeTimeout"`
}

func defaultBridgeConfig() BridgeConfig {
	return BridgeConfig{URL: "ws://localhost:3002", HandshakeTimeout: 10}
}

// UpdatesConfig controls background update checks.
type UpdatesConfig struct {
	// CheckSchedule is a cron expression or descriptor such as "@every 6h".
	// Empty disables scheduled checks.
	CheckSchedule string `json:"checkSchedule" yaml:"checkSchedule"`
	AutoActivate  bool   `json:"autoActivate" yaml:"autoActivate"`
}

func defaultUpdatesConfig() UpdatesConfig {
	return UpdatesConfig{CheckSchedule: "@every 6h"}
}

// PushConfig holds the application server identity used for push
// subscriptions.
type PushConfig struct {
	ServerPublicKey string `json:"serverPublicKey" yaml:"serverPublicKey"`
}

// LogConfig configures the process-wide slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug | info | warn | error
	Format string `json:"format" yaml:"format"` // text | json
}

func defaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "text"}
}

// Config is the root configuration object, loaded from ~/.swbridge/config.json.
type Config struct {
	ServiceWorker ServiceWorkerConfig `json:"serviceWorker" yaml:"serviceWorker"`
	Bridge        BridgeConfig        `json:"bridge" yaml:"bridge"`
	Updates       UpdatesConfig       `json:"updates" yaml:"updates"`
	Push          PushConfig          `json:"push" yaml:"push"`
	Log           LogConfig           `json:"log" yaml:"log"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		ServiceWorker: defaultServiceWorkerConfig(),
		Bridge:        defaultBridgeConfig(),
		Updates:       defaultUpdatesConfig(),
		Log:           defaultLogConfig(),
	}
}
