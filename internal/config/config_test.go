package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithRequiredValues(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost:5432/importdesk
whatsapp:
  token: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Notifications.Worker.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Notifications.Worker.PollInterval)
	assert.Equal(t, "241", cfg.WhatsApp.CountryCode)
	assert.Equal(t, "https://gate.whapi.cloud", cfg.WhatsApp.BaseURL)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "3000"
database:
  url: postgres://localhost:5432/importdesk
  max_open_conns: 25
notifications:
  worker:
    batch_size: 50
    poll_interval: 5s
whatsapp:
  token: secret
  country_code: "33"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 50, cfg.Notifications.Worker.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Notifications.Worker.PollInterval)
	assert.Equal(t, "33", cfg.WhatsApp.CountryCode)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://file-value:5432/importdesk
whatsapp:
  token: file-token
`)

	t.Setenv("IMPORTDESK_DATABASE__URL", "postgres://env-value:5432/importdesk")
	t.Setenv("IMPORTDESK_WHATSAPP__TOKEN", "env-token")
	t.Setenv("IMPORTDESK_LOG__LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-value:5432/importdesk", cfg.Database.URL)
	assert.Equal(t, "env-token", cfg.WhatsApp.Token)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	path := writeConfig(t, `
whatsapp:
  token: secret
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
}

func TestLoad_MissingWhatsAppToken(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost:5432/importdesk
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whatsapp.token")
}

func TestLoad_MissingFileUsesEnvOnly(t *testing.T) {
	t.Setenv("IMPORTDESK_DATABASE__URL", "postgres://env:5432/importdesk")
	t.Setenv("IMPORTDESK_WHATSAPP__TOKEN", "env-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env:5432/importdesk", cfg.Database.URL)
}
