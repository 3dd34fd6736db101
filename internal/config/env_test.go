package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvEmail, "me@example.com")
	t.Setenv(EnvAPIURL, "http://127.0.0.1:9999")

	overrides := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", overrides.ConfigPath)
	assert.Equal(t, "me@example.com", overrides.Email)
	assert.Equal(t, "http://127.0.0.1:9999", overrides.APIURL)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvEmail, "")
	t.Setenv(EnvAPIURL, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides())
}

func TestEnvVarConstants(t *testing.T) {
	assert.Equal(t, "MEGA_GO_CONFIG", EnvConfig)
	assert.Equal(t, "MEGA_GO_EMAIL", EnvEmail)
	assert.Equal(t, "MEGA_GO_API_URL", EnvAPIURL)
}
