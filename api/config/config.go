// Package config reads the API process configuration from the environment.
// Business settings (split percentages, caps, admin fees) are not process
// configuration; they come from settings snapshots in Postgres.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ziswaf/revshare/revshare/pkg/clickhouse"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
)

type Config struct {
	HTTPAddr    string
	MetricsAddr string

	Postgres      pg.Config
	RunMigrations bool

	// AmilPartyID and DeveloperPartyID own the shares not tied to a transaction party.
	AmilPartyID      string
	DeveloperPartyID string

	AllowedOrigins     []string
	RateLimitPerMinute int
	RateLimitBurst     int

	SlackBotToken string
	SlackChannel  string

	SentryDSN         string
	SentryEnvironment string

	// ClickHouse is nil when the analytics export is disabled.
	ClickHouse *clickhouse.Config

	ProofBucket   string
	ProofPrefix   string
	ProofRegion   string
	ProofEndpoint string

	DispatchInterval time.Duration
}

// LoadFromEnv builds the configuration from flags and environment variables.
func LoadFromEnv(httpAddrFlag, metricsAddrFlag string) (*Config, error) {
	cfg := &Config{
		HTTPAddr:    httpAddrFlag,
		MetricsAddr: metricsAddrFlag,
	}

	pgCfg, err := pg.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Postgres = pgCfg
	cfg.RunMigrations = os.Getenv("POSTGRES_RUN_MIGRATIONS") == "true"

	cfg.AmilPartyID = os.Getenv("AMIL_PARTY_ID")
	if cfg.AmilPartyID == "" {
		return nil, fmt.Errorf("AMIL_PARTY_ID is required")
	}
	cfg.DeveloperPartyID = os.Getenv("DEVELOPER_PARTY_ID")
	if cfg.DeveloperPartyID == "" {
		return nil, fmt.Errorf("DEVELOPER_PARTY_ID is required")
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	if cfg.RateLimitPerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", 600); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 50); err != nil {
		return nil, err
	}

	// Slack needs both the token and the channel.
	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")
	cfg.SlackChannel = os.Getenv("SLACK_OPERATOR_CHANNEL")
	if (cfg.SlackBotToken == "") != (cfg.SlackChannel == "") {
		return nil, fmt.Errorf("SLACK_BOT_TOKEN and SLACK_OPERATOR_CHANNEL must be set together")
	}

	cfg.SentryDSN = os.Getenv("SENTRY_DSN")
	cfg.SentryEnvironment = os.Getenv("SENTRY_ENVIRONMENT")
	if cfg.SentryEnvironment == "" {
		cfg.SentryEnvironment = "production"
	}

	if addr := os.Getenv("CLICKHOUSE_ADDR_TCP"); addr != "" {
		cfg.ClickHouse = &clickhouse.Config{
			Addr:     addr,
			Database: os.Getenv("CLICKHOUSE_DATABASE"),
			Username: os.Getenv("CLICKHOUSE_USERNAME"),
			Password: os.Getenv("CLICKHOUSE_PASSWORD"),
			Secure:   os.Getenv("CLICKHOUSE_SECURE") == "true",
		}
	}

	cfg.ProofBucket = os.Getenv("PROOF_S3_BUCKET")
	cfg.ProofPrefix = os.Getenv("PROOF_S3_PREFIX")
	cfg.ProofRegion = os.Getenv("PROOF_S3_REGION")
	cfg.ProofEndpoint = os.Getenv("PROOF_S3_ENDPOINT")

	cfg.DispatchInterval = 2 * time.Second
	if v := os.Getenv("OUTBOX_DISPATCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("OUTBOX_DISPATCH_INTERVAL must be a positive duration, got %q", v)
		}
		cfg.DispatchInterval = d
	}

	return cfg, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}
