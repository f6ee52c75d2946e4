package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("POSTGRES_DB", "revshare")
	t.Setenv("POSTGRES_USER", "revshare")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("AMIL_PARTY_ID", "amil-ziswaf")
	t.Setenv("DEVELOPER_PARTY_ID", "dev-platform")
}

func TestRevShare_Config_LoadFromEnv(t *testing.T) {
	for _, key := range []string{
		"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_SSLMODE", "POSTGRES_RUN_MIGRATIONS",
		"CORS_ALLOWED_ORIGINS", "RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_BURST",
		"SLACK_BOT_TOKEN", "SLACK_OPERATOR_CHANNEL", "SENTRY_DSN", "SENTRY_ENVIRONMENT",
		"CLICKHOUSE_ADDR_TCP", "PROOF_S3_BUCKET", "OUTBOX_DISPATCH_INTERVAL",
	} {
		t.Setenv(key, "")
	}

	tests := []struct {
		name        string
		setupEnv    func(t *testing.T)
		errContains string
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name:     "defaults",
			setupEnv: setRequired,
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "localhost", cfg.Postgres.Host)
				require.Equal(t, "5432", cfg.Postgres.Port)
				require.False(t, cfg.RunMigrations)
				require.Equal(t, "amil-ziswaf", cfg.AmilPartyID)
				require.Equal(t, 600, cfg.RateLimitPerMinute)
				require.Equal(t, 50, cfg.RateLimitBurst)
				require.Nil(t, cfg.ClickHouse)
				require.Equal(t, "production", cfg.SentryEnvironment)
				require.Equal(t, 2*time.Second, cfg.DispatchInterval)
				require.Equal(t, ":8080", cfg.HTTPAddr)
			},
		},
		{
			name: "optional integrations",
			setupEnv: func(t *testing.T) {
				setRequired(t)
				t.Setenv("CORS_ALLOWED_ORIGINS", "https://admin.ziswaf.id, https://mitra.ziswaf.id")
				t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				t.Setenv("SLACK_OPERATOR_CHANNEL", "C0OPS")
				t.Setenv("CLICKHOUSE_ADDR_TCP", "localhost:9000")
				t.Setenv("PROOF_S3_BUCKET", "ziswaf-proofs")
				t.Setenv("OUTBOX_DISPATCH_INTERVAL", "500ms")
			},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, []string{"https://admin.ziswaf.id", "https://mitra.ziswaf.id"}, cfg.AllowedOrigins)
				require.Equal(t, "C0OPS", cfg.SlackChannel)
				require.NotNil(t, cfg.ClickHouse)
				require.Equal(t, "localhost:9000", cfg.ClickHouse.Addr)
				require.Equal(t, "ziswaf-proofs", cfg.ProofBucket)
				require.Equal(t, 500*time.Millisecond, cfg.DispatchInterval)
			},
		},
		{
			name: "missing amil party",
			setupEnv: func(t *testing.T) {
				setRequired(t)
				t.Setenv("AMIL_PARTY_ID", "")
			},
			errContains: "AMIL_PARTY_ID is required",
		},
		{
			name: "slack token without channel",
			setupEnv: func(t *testing.T) {
				setRequired(t)
				t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
			},
			errContains: "must be set together",
		},
		{
			name: "bad rate limit",
			setupEnv: func(t *testing.T) {
				setRequired(t)
				t.Setenv("RATE_LIMIT_PER_MINUTE", "lots")
			},
			errContains: "RATE_LIMIT_PER_MINUTE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupEnv(t)
			cfg, err := LoadFromEnv(":8080", "")
			if tt.errContains != "" {
				require.ErrorContains(t, err, tt.errContains)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
