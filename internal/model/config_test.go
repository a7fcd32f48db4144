package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearDeployMarkers(t *testing.T) {
	t.Helper()
	for _, key := range []string{"RENDER", "DYNO"} {
		if v, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { _ = os.Setenv(key, v) })
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearDeployMarkers(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ModeServer, cfg.Mode)
	assert.Equal(t, 10000, cfg.Port)
	assert.Equal(t, "label:inbox is:unread newer_than:7d", cfg.Gmail.Query)
	assert.Equal(t, 60*time.Second, cfg.PollInterval())
	assert.Equal(t, 5*time.Second, cfg.WorkerStartDelay())
	assert.Equal(t, "#alerts", cfg.Slack.Channel)
	assert.Equal(t, "Gmail Monitor", cfg.Slack.Username)
	assert.Equal(t, "sqlite", cfg.State.Backend)
	assert.Equal(t, "state.db", cfg.State.Path)
	assert.Equal(t, "https://oauth2.googleapis.com/token", cfg.Google.TokenURL)
	assert.False(t, cfg.FullBody)
	assert.True(t, cfg.Auth.Interactive)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearDeployMarkers(t)
	t.Setenv("GMAIL_QUERY", "from:boss")
	t.Setenv("POLL_INTERVAL_SECONDS", "15")
	t.Setenv("RETURN_FULL_BODY", "true")
	t.Setenv("MODE", "worker")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.example.com/x")
	t.Setenv("PORT", "8080")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "from:boss", cfg.Gmail.Query)
	assert.Equal(t, 15*time.Second, cfg.PollInterval())
	assert.True(t, cfg.FullBody)
	assert.Equal(t, ModeWorker, cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FullBodyOnlyForTrue(t *testing.T) {
	clearDeployMarkers(t)
	for raw, want := range map[string]bool{
		"true":  true,
		"TRUE":  true,
		" True": true,
		"yes":   false,
		"1":     false,
		"false": false,
		"":      false,
	} {
		t.Run(raw, func(t *testing.T) {
			t.Setenv("RETURN_FULL_BODY", raw)
			cfg, err := LoadConfig("")
			require.NoError(t, err)
			assert.Equal(t, want, cfg.FullBody)
		})
	}
}

func TestLoadConfig_FullBodyFromFile(t *testing.T) {
	clearDeployMarkers(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("full_body: true\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.FullBody)
}

func TestLoadConfig_FileThenEnvPrecedence(t *testing.T) {
	clearDeployMarkers(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Berlin
slack:
  channel: "#mail"
gmail:
  query: "is:unread"
`), 0o600))
	t.Setenv("SLACK_CHANNEL", "#env-wins")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, "is:unread", cfg.Gmail.Query)
	assert.Equal(t, "#env-wins", cfg.Slack.Channel)
}

func TestLoadConfig_DeployedPlatformIsNonInteractive(t *testing.T) {
	t.Setenv("RENDER", "true")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.False(t, cfg.Auth.Interactive)
}

func TestLoadConfig_NonPositiveIntervalFallsBack(t *testing.T) {
	t.Setenv("POLL_INTERVAL_SECONDS", "0")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Poll.IntervalSec)
}

func TestNormalizeMode(t *testing.T) {
	assert.Equal(t, ModeServer, NormalizeMode("server"))
	assert.Equal(t, ModeWorker, NormalizeMode(" WORKER "))
	assert.Equal(t, ModeCombined, NormalizeMode("both"))
	assert.Equal(t, ModeCombined, NormalizeMode(""))

	cfg := &AppConfig{Mode: ModeCombined}
	assert.True(t, cfg.RunsServer())
	assert.True(t, cfg.RunsWorker())
}

func validConfig() *AppConfig {
	cfg := &AppConfig{Mode: ModeWorker, Provider: "gmail"}
	cfg.Slack.WebhookURL = "https://hooks.example.com/x"
	cfg.State.Backend = "sqlite"
	cfg.Auth.TokenStore = "file"
	return cfg
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.Slack.WebhookURL = ""
	assert.Error(t, cfg.Validate())

	cfg.Mode = ModeServer
	assert.NoError(t, cfg.Validate(), "server mode does not need a webhook")

	cfg = validConfig()
	cfg.State.Backend = "postgres"
	assert.Error(t, cfg.Validate())
	cfg.State.PostgresURL = "postgres://localhost/mailwatch"
	assert.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Provider = "pop3"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Auth.TokenStore = "vault"
	assert.Error(t, cfg.Validate())
}

func TestLoadLocation(t *testing.T) {
	loc, ok := LoadLocation("America/New_York")
	assert.True(t, ok)
	assert.Equal(t, "America/New_York", loc.String())

	loc, ok = LoadLocation("Mars/Olympus_Mons")
	assert.False(t, ok)
	assert.Equal(t, time.UTC, loc)

	loc, ok = LoadLocation("")
	assert.True(t, ok)
	assert.Equal(t, time.UTC, loc)
}
