package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/OTAI/internal/delivery"
	"github.com/BTreeMap/OTAI/internal/store"
)

var configEnvVars = []string{
	"OTAI_STATE_DIR", "OTAI_DB_DSN", "DATABASE_URL", "API_ADDR",
	"AI_PROVIDER", "GEMINI_API_KEY", "GEMINI_MODEL", "OPENAI_API_KEY", "OPENAI_MODEL", "AI_TIMEOUT",
	"OTAI_SYSTEM_PROMPT_FILE",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "REFERRAL_TO_NUMBER", "DELIVERY_TIMEOUT",
	"SESSION_IDLE_TIMEOUT", "SESSION_SWEEP_INTERVAL", "OTAI_LOG_LEVEL",
}

// clearConfigEnv unsets every configuration variable for the test's duration.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	config, err := loadEnvironmentConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultStateDir, config.StateDir)
	assert.Equal(t, filepath.Join(DefaultStateDir, DefaultDBFileName), config.DBDSN)
	assert.Equal(t, ":8080", config.APIAddr)
	assert.Equal(t, 3*time.Hour, config.SessionIdleTimeout)
	assert.Equal(t, time.Minute, config.SessionSweepInterval)
	assert.Equal(t, 60*time.Second, config.AITimeout)
	assert.Equal(t, slog.LevelDebug, config.LogLevel)
	assert.False(t, config.twilioConfigured())
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OTAI_STATE_DIR", "/tmp/otai-state")
	t.Setenv("DATABASE_URL", "postgres://otai@localhost/otai")
	t.Setenv("SESSION_IDLE_TIMEOUT", "90m")
	t.Setenv("OTAI_LOG_LEVEL", "warn")

	config, err := loadEnvironmentConfig()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/otai-state", config.StateDir)
	assert.Equal(t, "postgres://otai@localhost/otai", config.DBDSN)
	assert.Equal(t, 90*time.Minute, config.SessionIdleTimeout)
	assert.Equal(t, slog.LevelWarn, config.LogLevel)
}

func TestLoadEnvironmentConfigPrefersOTAIDSN(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OTAI_DB_DSN", "/data/otai.db")
	t.Setenv("DATABASE_URL", "postgres://otai@localhost/otai")

	config, err := loadEnvironmentConfig()
	require.NoError(t, err)
	assert.Equal(t, "/data/otai.db", config.DBDSN)
}

func TestParseCommandLineFlags(t *testing.T) {
	config := Config{
		StateDir:           "/var/lib/otai",
		DBDSN:              filepath.Join("/var/lib/otai", DefaultDBFileName),
		APIAddr:            ":8080",
		SessionIdleTimeout: 3 * time.Hour,
	}
	fs := flag.NewFlagSet("otai", flag.ContinueOnError)
	err := parseCommandLineFlags(fs, []string{"-state-dir", "/srv/otai", "-api-addr", ":9090", "-idle-timeout", "1h", "-log-level", "error"}, &config)
	require.NoError(t, err)

	assert.Equal(t, "/srv/otai", config.StateDir)
	assert.Equal(t, filepath.Join("/srv/otai", DefaultDBFileName), config.DBDSN, "default SQLite path follows the state directory")
	assert.Equal(t, ":9090", config.APIAddr)
	assert.Equal(t, time.Hour, config.SessionIdleTimeout)
	assert.Equal(t, slog.LevelError, config.LogLevel)
}

func TestParseCommandLineFlagsKeepsExplicitDSN(t *testing.T) {
	config := Config{StateDir: "/var/lib/otai", DBDSN: "postgres://otai@db/otai"}
	fs := flag.NewFlagSet("otai", flag.ContinueOnError)
	require.NoError(t, parseCommandLineFlags(fs, []string{"-state-dir", "/srv/otai"}, &config))
	assert.Equal(t, "postgres://otai@db/otai", config.DBDSN)
}

func TestBuildStoreOptions(t *testing.T) {
	tests := []struct {
		name   string
		dsn    string
		driver string
	}{
		{"memory", "memory", ""},
		{"empty", "", ""},
		{"sqlite path", "/var/lib/otai/otai.db", "sqlite3"},
		{"postgres url", "postgresql://user:pw@localhost/otai", "postgres"},
		{"postgres keywords", "host=localhost dbname=otai sslmode=disable", "postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var so store.Opts
			for _, opt := range buildStoreOptions(Config{DBDSN: tt.dsn}) {
				opt(&so)
			}
			assert.Equal(t, tt.driver, so.Driver)
		})
	}
}

func TestResolveAIProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    string
		wantErr bool
	}{
		{"nothing configured", Config{}, ProviderNone, false},
		{"gemini key", Config{GeminiAPIKey: "g"}, ProviderGemini, false},
		{"openai key", Config{OpenAIAPIKey: "o"}, ProviderOpenAI, false},
		{"gemini preferred", Config{GeminiAPIKey: "g", OpenAIAPIKey: "o"}, ProviderGemini, false},
		{"explicit openai", Config{AIProvider: "OpenAI", GeminiAPIKey: "g"}, ProviderOpenAI, false},
		{"explicit none", Config{AIProvider: "none", GeminiAPIKey: "g"}, ProviderNone, false},
		{"unknown", Config{AIProvider: "claude"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.config.resolveAIProvider()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildCompleterWithoutProvider(t *testing.T) {
	c, err := buildCompleter(context.Background(), Config{AIProvider: ProviderNone})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestBuildDeliverer(t *testing.T) {
	d, err := buildDeliverer(Config{})
	require.NoError(t, err)
	assert.IsType(t, delivery.LogDeliverer{}, d)

	d, err = buildDeliverer(Config{
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "token",
		TwilioFrom:       "+15005550006",
		ReferralTo:       "+46701234567",
	})
	require.NoError(t, err)
	assert.IsType(t, &delivery.TwilioDeliverer{}, d)
}

func TestEnsureStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	config := Config{StateDir: dir, DBDSN: filepath.Join(dir, "db", DefaultDBFileName)}
	require.NoError(t, ensureStateDir(config))

	info, err := os.Stat(filepath.Join(dir, "db"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
