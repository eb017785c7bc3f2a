package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "CRASHCTL_CONFIG"
	EnvServerURL = "CRASHCTL_SERVER_URL"
	EnvDataDir   = "CRASHCTL_DATA_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // CRASHCTL_CONFIG: override config file path
	ServerURL  string // CRASHCTL_SERVER_URL: API base URL override
	DataDir    string // CRASHCTL_DATA_DIR: data directory override
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		ServerURL:  os.Getenv(EnvServerURL),
		DataDir:    os.Getenv(EnvDataDir),
	}
}
