// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for crashctl. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Session SessionConfig `toml:"session"`
	Upload  UploadConfig  `toml:"upload"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig points the client at the crash-reporting API.
type ServerConfig struct {
	URL            string `toml:"url"`
	RequestTimeout string `toml:"request_timeout"`
}

// SessionConfig controls token refresh behavior.
type SessionConfig struct {
	// KeepOnSoftRefreshFailure keeps the stored token when a mid-request
	// refresh fails without an explicit 401 (network error, 5xx). The default
	// ends the session on any refresh failure.
	KeepOnSoftRefreshFailure bool `toml:"keep_on_soft_refresh_failure"`

	// RefreshAttempts bounds the explicit `crashctl refresh` retry loop.
	RefreshAttempts int `toml:"refresh_attempts"`
}

// UploadConfig controls the chunked upload engine.
type UploadConfig struct {
	// ChunkTimeout is the per-chunk request deadline. Chunks are 5 MiB, so
	// this is deliberately longer than the ordinary request timeout.
	ChunkTimeout string `toml:"chunk_timeout"`

	// DataDir holds the token slot and upload session records.
	// Empty means the platform default data directory.
	DataDir string `toml:"data_dir"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	ServerURL  *string // --server flag
	DataDir    *string // --data-dir flag
	LogLevel   *string // --verbose/--quiet, pre-mapped to a level name
}

// RequestTimeout parses the configured request timeout.
// Validation guarantees the string parses; a zero config falls back here
// anyway so callers never see a zero deadline.
func (c *Config) RequestTimeout() time.Duration {
	return parseDurationOr(c.Server.RequestTimeout, defaultRequestTimeout)
}

// ChunkTimeout parses the configured per-chunk timeout.
func (c *Config) ChunkTimeout() time.Duration {
	return parseDurationOr(c.Upload.ChunkTimeout, defaultChunkTimeout)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}
