package config

import "time"

// Default values applied before the config file, environment, and flags.
const (
	defaultServerURL      = "http://localhost:8080/api"
	defaultRequestTimeout = 30 * time.Second
	defaultChunkTimeout   = 2 * time.Minute

	defaultRefreshAttempts = 3

	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// DefaultConfig returns a Config populated with every default value, so a
// missing config file still yields a fully usable configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:            defaultServerURL,
			RequestTimeout: defaultRequestTimeout.String(),
		},
		Session: SessionConfig{
			RefreshAttempts: defaultRefreshAttempts,
		},
		Upload: UploadConfig{
			ChunkTimeout: defaultChunkTimeout.String(),
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
