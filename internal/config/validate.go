package config

import (
	"errors"
	"fmt"
)

const minAutoFlushThreshold = 1024

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Validate checks all configuration values and returns every error found
// rather than stopping at the first, so a misconfigured file can be
// fixed in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.SessionIdleTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("session_idle_timeout: must be positive, got %s", cfg.SessionIdleTimeout.Duration))
	}

	if cfg.AutoFlushThreshold < minAutoFlushThreshold {
		errs = append(errs, fmt.Errorf("auto_flush_threshold: must be >= %d, got %d", minAutoFlushThreshold, cfg.AutoFlushThreshold))
	}

	for key := range cfg.SessionInfo {
		if len(key) > 0 && key[0] == '_' {
			errs = append(errs, fmt.Errorf("session_info: key %q uses the reserved \"_\" prefix", key))
		}
	}

	if !validLogLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("logging.level: must be one of debug, info, warn, error; got %q", cfg.Logging.Level))
	}

	if !validLogFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Errorf("logging.format: must be one of auto, text, json; got %q", cfg.Logging.Format))
	}

	return errors.Join(errs...)
}
