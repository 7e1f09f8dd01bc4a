package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"YOUTUBE_API_KEY", "TUBEPULSE_DB_DRIVER", "TUBEPULSE_DB_DSN", "TUBEPULSE_REGION",
		"TUBEPULSE_OUTPUT_DIR", "TUBEPULSE_TOP_LIMIT", "LOG_LEVEL", "LOG_ENCODING",
		"SLACK_WEBHOOK_URL", "DISCORD_WEBHOOK_URL",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "NG", cfg.Source.Region)
	assert.Equal(t, 50, cfg.Source.MaxResults)
	assert.Equal(t, 10, cfg.Views.TopLimit)
	assert.Equal(t, "./results", cfg.Output.Dir)
	assert.Equal(t, 30*time.Second, cfg.Source.ParseTimeout())
}

func TestLoadMinimalFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
source:
  region: GB
views:
  top_limit: 25
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "GB", cfg.Source.Region)
	assert.Equal(t, 25, cfg.Views.TopLimit)
	assert.Equal(t, "api", cfg.Source.Kind)
	assert.Equal(t, "0 6 * * *", cfg.Schedule.Cron)
}

func TestLoadRejectsNonPositiveLimit(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "views:\n  top_limit: 0\n")

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "database:\n  driver: oracle\n")

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestFeedSourceRequiresChannels(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "source:\n  kind: feed\n")

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("YOUTUBE_API_KEY", "secret")
	t.Setenv("TUBEPULSE_DB_DSN", "/tmp/x.db")
	t.Setenv("TUBEPULSE_TOP_LIMIT", "3")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.example.com/a")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Source.APIKey)
	assert.Equal(t, "/tmp/x.db", cfg.Database.DSN)
	assert.Equal(t, 3, cfg.Views.TopLimit)
	assert.True(t, cfg.Alerts.Slack.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLocation(t *testing.T) {
	loc, err := SourceConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = SourceConfig{Timezone: "Not/AZone"}.Location()
	require.Error(t, err)
}
