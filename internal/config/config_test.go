package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		MatchOrdering:     OrderingFIFO,
		MatchScope:        ScopeUnderlying,
		MaxRetries:        3,
		PollInterval:      5 * time.Second,
		SchwabAccessToken: "token",
		DiscordWebhook:    "https://discord.com/api/webhooks/1/abc",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBadOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.MatchOrdering = "newest"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATCH_ORDERING")
}

func TestValidateRejectsBadScope(t *testing.T) {
	cfg := validConfig()
	cfg.MatchScope = "account"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATCH_SCOPE")
}

func TestValidateRequiresCredentialsOutsideDevMode(t *testing.T) {
	cfg := validConfig()
	cfg.SchwabAccessToken = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.DiscordWebhook = ""
	assert.Error(t, cfg.Validate())

	// Dev mode runs without credentials.
	cfg.DevMode = true
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonPositivePollInterval(t *testing.T) {
	cfg := validConfig()
	cfg.PollInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "10s")
	assert.Equal(t, 10*time.Second, getEnvAsDuration("TEST_DURATION", time.Second))

	// Bare seconds from older env files.
	t.Setenv("TEST_DURATION", "30")
	assert.Equal(t, 30*time.Second, getEnvAsDuration("TEST_DURATION", time.Second))

	t.Setenv("TEST_DURATION", "nonsense")
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_DURATION", time.Second))

	assert.Equal(t, 2*time.Second, getEnvAsDuration("TEST_DURATION_UNSET", 2*time.Second))
}

func TestBackupConfigEnabled(t *testing.T) {
	assert.False(t, BackupConfig{}.Enabled())
	assert.False(t, BackupConfig{Endpoint: "https://x"}.Enabled())
	assert.True(t, BackupConfig{Endpoint: "https://x", Bucket: "b"}.Enabled())
}
