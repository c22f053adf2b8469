package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speciesync.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url = "postgres://u:p@db:5432/species"
change_threshold = 5
translate_pace = "50ms"
token_ttl = "1h"
log_format = "text"
store = "memory"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ChangeThreshold)
	assert.Equal(t, 50*time.Millisecond, cfg.TranslatePace.Duration)
	assert.Equal(t, time.Hour, cfg.TokenTTL.Duration)
	assert.Equal(t, "memory", cfg.Store)
	// untouched keys keep their defaults
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 10*time.Second, cfg.TranslateTimeout.Duration)
}

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"DATABASE_URL":                    "postgres://env",
		"JWT_SECRET":                      "s3cret",
		"PORT":                            "9090",
		"SPECIESYNC_CHANGE_THRESHOLD":     "7",
		"SPECIESYNC_DISABLE_TRANSACTIONS": "true",
	}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 7, cfg.ChangeThreshold)
	assert.True(t, cfg.DisableTransactions)
}

func TestApplyEnv_PrefixedWins(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.applyEnv(envMap(map[string]string{
		"DATABASE_URL":            "postgres://generic",
		"SPECIESYNC_DATABASE_URL": "postgres://specific",
		"SPECIESYNC_ADDR":         "127.0.0.1:7000",
		"PORT":                    "9090",
	})))
	assert.Equal(t, "postgres://specific", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"SPECIESYNC_CHANGE_THRESHOLD": "many",
		"SPECIESYNC_TOKEN_TTL":        "forever",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SPECIESYNC_CHANGE_THRESHOLD")
	assert.Contains(t, err.Error(), "SPECIESYNC_TOKEN_TTL")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Store = "mongo"
	cfg.ChangeThreshold = 0
	cfg.LogLevel = "loud"
	cfg.BootstrapAdmin = "admin"
	err := cfg.Validate()
	require.Error(t, err)
	for _, s := range []string{"store", "change_threshold", "log level", "bootstrap_admin"} {
		assert.Contains(t, err.Error(), s)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogLevel = "warn"
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
}
