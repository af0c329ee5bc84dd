package config

import "time"

// Default values for configuration options — the "layer 0" of the
// override chain (defaults -> config file), chosen to match
// the original client library's documented defaults.
const (
	defaultSessionIdleTimeout = 300 * time.Second
	defaultAutoFlushThreshold = 65536
	defaultStateDir           = ".agentcore"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// both the starting point for TOML decoding (unset fields keep defaults)
// and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		UseHTTPS:           false,
		SessionIdleTimeout: Duration{defaultSessionIdleTimeout},
		AutoFlushThreshold: defaultAutoFlushThreshold,
		TeeToSystemLog:     true,
		SessionInfo:        make(map[string]any),
		StateDir:           defaultStateDir,
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
