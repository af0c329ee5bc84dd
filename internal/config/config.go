// Package config implements TOML configuration loading and validation for
// the agent core and its demo host CLI.
package config

import "time"

// Config is the top-level configuration structure, decoded directly from
// a TOML file with DefaultConfig as its starting point so unset fields
// keep sensible values.
type Config struct {
	UserID             string         `toml:"user_id"`
	UseHTTPS           bool           `toml:"use_https"`
	CollectorHost      string         `toml:"collector_host"`
	SessionIdleTimeout Duration       `toml:"session_idle_timeout"`
	AutoFlushThreshold uint64         `toml:"auto_flush_threshold"`
	TeeToSystemLog     bool           `toml:"tee_to_system_log"`
	SessionInfo        map[string]any `toml:"session_info"`
	StateDir           string         `toml:"state_dir"`
	Logging            LoggingConfig  `toml:"logging"`
}

// LoggingConfig controls the host's own structured logging, independent
// of what the agent core buffers and transmits.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration wraps time.Duration so it can be decoded from a TOML string
// like "5m" rather than a raw nanosecond integer.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
