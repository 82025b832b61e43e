package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faceguard.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("FACEGUARD_CONFIG", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, 0.75, cfg.Threshold)
	require.Equal(t, 15, cfg.MaxFailedAttempts)
	require.Equal(t, 5*time.Minute, cfg.LockoutDuration)
	require.Equal(t, 2*time.Second, cfg.Cooldown)
	require.True(t, cfg.LivenessEnabled)
	require.False(t, cfg.AdaptiveThreshold)
	require.False(t, cfg.ImageCorroboration)
	require.Equal(t, "127.0.0.1:8089", cfg.StatusAddr)
	require.Equal(t, filepath.Join(cfg.DataDir, "faceguard.db"), cfg.DatabaseFile)
	require.Equal(t, filepath.Join(cfg.DataDir, "credential.key"), cfg.KeyFile)
	require.Equal(t, []string{"loginctl", "lock-session"}, cfg.LockArgs())
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
data_dir = "/tmp/fg"
face_recognition_threshold = 0.8
max_failed_attempts = 3
lockout_duration = "90s"
liveness_detection_enabled = false
mqtt_broker = "tcp://localhost:1883"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "/tmp/fg", cfg.DataDir)
	require.Equal(t, "/tmp/fg/faceguard.db", cfg.DatabaseFile)
	require.Equal(t, 0.8, cfg.Threshold)
	require.Equal(t, 3, cfg.MaxFailedAttempts)
	require.Equal(t, 90*time.Second, cfg.LockoutDuration)
	require.False(t, cfg.LivenessEnabled)
	require.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	require.Equal(t, "faceguard/alerts", cfg.MQTTTopic)
}

func TestLoadConfig_LockoutDurationMs(t *testing.T) {
	path := writeConfig(t, `
lockout_duration = "10m"
lockoutDurationMs = 1500
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, cfg.LockoutDuration)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `max_failed_attempts = 3`)

	t.Setenv("FACEGUARD_MAX_FAILED_ATTEMPTS", "7")
	t.Setenv("FACEGUARD_LOCKOUT_DURATION", "2500")
	t.Setenv("FACEGUARD_ADAPTIVE_THRESHOLD", "true")
	t.Setenv("FACEGUARD_LOCK_COMMAND", "")
	t.Setenv("FACEGUARD_STATUS_ADDR", "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 7, cfg.MaxFailedAttempts)
	require.Equal(t, 2500*time.Millisecond, cfg.LockoutDuration)
	require.True(t, cfg.AdaptiveThreshold)
	require.Empty(t, cfg.LockArgs())
	require.Empty(t, cfg.StatusAddr)
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	path := writeConfig(t, `treshold = 0.5`)

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("FACEGUARD_CONFIG", "")
	base, err := LoadConfig("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold zero", func(c *Config) { c.Threshold = 0 }},
		{"threshold above one", func(c *Config) { c.Threshold = 1.2 }},
		{"no attempts", func(c *Config) { c.MaxFailedAttempts = 0 }},
		{"no lockout", func(c *Config) { c.LockoutDuration = 0 }},
		{"negative cooldown", func(c *Config) { c.Cooldown = -time.Second }},
		{"bad qos", func(c *Config) { c.MQTTQoS = 3 }},
		{"webhook without secret", func(c *Config) { c.WebhookURL = "https://example.com/hook" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
