package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "MEGA_GO_CONFIG"
	EnvEmail  = "MEGA_GO_EMAIL"
	EnvAPIURL = "MEGA_GO_API_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // MEGA_GO_CONFIG: override config file path
	Email      string // MEGA_GO_EMAIL: account email
	APIURL     string // MEGA_GO_API_URL: API endpoint
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies them.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Email:      os.Getenv(EnvEmail),
		APIURL:     os.Getenv(EnvAPIURL),
	}
}
