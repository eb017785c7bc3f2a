package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Valid log levels and formats.
var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Validate checks a Config for values that would misbehave at runtime:
// an unusable server URL, unknown log levels, or unparsable durations.
func Validate(cfg *Config) error {
	if err := validateServerURL(cfg.Server.URL); err != nil {
		return err
	}

	if err := validateDuration("server.request_timeout", cfg.Server.RequestTimeout); err != nil {
		return err
	}

	if err := validateDuration("upload.chunk_timeout", cfg.Upload.ChunkTimeout); err != nil {
		return err
	}

	if cfg.Session.RefreshAttempts < 1 {
		return fmt.Errorf("session.refresh_attempts must be at least 1, got %d", cfg.Session.RefreshAttempts)
	}

	if !slices.Contains(validLogLevels, strings.ToLower(cfg.Logging.LogLevel)) {
		return fmt.Errorf("logging.log_level %q is not one of %s",
			cfg.Logging.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if !slices.Contains(validLogFormats, strings.ToLower(cfg.Logging.LogFormat)) {
		return fmt.Errorf("logging.log_format %q is not one of %s",
			cfg.Logging.LogFormat, strings.Join(validLogFormats, ", "))
	}

	return nil
}

func validateServerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("server.url must be set")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("server.url %q is not a valid URL: %w", raw, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url %q must use http or https", raw)
	}

	if u.Host == "" {
		return fmt.Errorf("server.url %q has no host", raw)
	}

	return nil
}

func validateDuration(key, raw string) error {
	if raw == "" {
		return nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s %q is not a valid duration: %w", key, raw, err)
	}

	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", key, raw)
	}

	return nil
}
