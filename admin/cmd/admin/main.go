package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/ziswaf/revshare/admin/internal/admin"
	"github.com/ziswaf/revshare/revshare/pkg/clickhouse"
	"github.com/ziswaf/revshare/revshare/pkg/engine"
	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/outbox"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/settings"
	"github.com/ziswaf/revshare/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Party accounts, needed by commands that build the engine
	amilPartyFlag := flag.String("amil-party-id", "", "amil party id (or set AMIL_PARTY_ID env var)")
	developerPartyFlag := flag.String("developer-party-id", "", "developer party id (or set DEVELOPER_PARTY_ID env var)")

	// Commands
	pgMigrateFlag := flag.String("pg-migrate", "", "Run PostgreSQL migrations: up, down or status (connection from POSTGRES_* env vars)")
	clickhouseMigrateFlag := flag.String("clickhouse-migrate", "", "Run ClickHouse migrations: up, down or status")
	resetClickhouseFlag := flag.Bool("reset-clickhouse", false, "Drop the revenue-share fact tables in ClickHouse")
	backfillFactsFlag := flag.Bool("backfill-facts", false, "Copy ledger records from Postgres into the ClickHouse fact table")
	retryDeferredFlag := flag.Bool("retry-deferred", false, "Retry deferred transactions against the active settings")
	reconcileFlag := flag.Bool("reconcile", false, "Recompute balances from the ledger and report drift (exits non-zero on drift)")
	listOutboxFlag := flag.String("list-outbox", "", "List outbox events in a status: pending, published or failed")
	requeueOutboxFlag := flag.StringSlice("requeue-outbox", nil, "Requeue failed outbox events by id (comma-separated)")
	importSettingsFlag := flag.String("import-settings", "", "Import a JSON settings file as the new active snapshot")

	// Options
	actorFlag := flag.String("actor", "", "Actor recorded on settings imports")
	rawSettingsFlag := flag.Bool("raw", false, "Import settings without validation")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")
	startTimeFlag := flag.String("start-time", "", "Start of the backfill range by paid_at (RFC3339, empty = first record)")
	endTimeFlag := flag.String("end-time", "", "End of the backfill range by paid_at (RFC3339, empty = now)")
	batchSizeFlag := flag.Int("batch-size", 500, "Records per ClickHouse insert during backfill")
	maxConcurrencyFlag := flag.Int("max-concurrency", 4, "Maximum concurrent ClickHouse inserts during backfill")
	limitFlag := flag.Int("limit", 100, "Maximum rows listed")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if err := godotenv.Load(*envFileFlag); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}

	// Override flags with environment variables if set
	if v := os.Getenv("CLICKHOUSE_ADDR_TCP"); v != "" {
		*clickhouseAddrFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_DATABASE"); v != "" {
		*clickhouseDatabaseFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_USERNAME"); v != "" {
		*clickhouseUsernameFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		*clickhousePasswordFlag = v
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}
	if v := os.Getenv("AMIL_PARTY_ID"); v != "" && *amilPartyFlag == "" {
		*amilPartyFlag = v
	}
	if v := os.Getenv("DEVELOPER_PARTY_ID"); v != "" && *developerPartyFlag == "" {
		*developerPartyFlag = v
	}

	chCfg := clickhouse.Config{
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}
	requireClickHouse := func(cmd string) error {
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --%s", cmd)
		}
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Execute commands
	if *pgMigrateFlag != "" {
		dir, err := admin.ParseMigrateDirection(*pgMigrateFlag)
		if err != nil {
			return err
		}
		pgCfg, err := pg.ConfigFromEnv()
		if err != nil {
			return err
		}
		return admin.PgMigrate(ctx, log, pgCfg, dir)
	}

	if *clickhouseMigrateFlag != "" {
		if err := requireClickHouse("clickhouse-migrate"); err != nil {
			return err
		}
		dir, err := admin.ParseMigrateDirection(*clickhouseMigrateFlag)
		if err != nil {
			return err
		}
		return admin.ClickHouseMigrate(ctx, log, chCfg, dir)
	}

	if *resetClickhouseFlag {
		if err := requireClickHouse("reset-clickhouse"); err != nil {
			return err
		}
		client, err := clickhouse.NewClient(ctx, log, chCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		defer client.Close()
		return admin.ResetClickHouse(ctx, log, client, admin.ResetConfig{
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})
	}

	if *listOutboxFlag != "" {
		pool, err := openPool(ctx, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		return admin.ListOutbox(ctx, pool, outbox.Status(*listOutboxFlag), *limitFlag, os.Stdout)
	}

	if len(*requeueOutboxFlag) > 0 {
		pool, err := openPool(ctx, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		dispatcher, err := outbox.NewDispatcher(outbox.DispatcherConfig{Logger: log, DB: pool, Registry: outbox.NewRegistry()})
		if err != nil {
			return err
		}
		return admin.RequeueOutbox(ctx, log, pool, dispatcher, *requeueOutboxFlag, os.Stdout)
	}

	if *importSettingsFlag != "" {
		pool, err := openPool(ctx, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		store, err := settings.NewStore(settings.StoreConfig{Logger: log, DB: pool})
		if err != nil {
			return err
		}
		_, err = admin.ImportSettings(ctx, log, store, admin.ImportSettingsConfig{
			Path:  *importSettingsFlag,
			Actor: *actorFlag,
			Raw:   *rawSettingsFlag,
			Out:   os.Stdout,
		})
		return err
	}

	if *retryDeferredFlag || *reconcileFlag {
		pool, err := openPool(ctx, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		store, err := settings.NewStore(settings.StoreConfig{Logger: log, DB: pool})
		if err != nil {
			return err
		}
		eng, err := engine.New(engine.Config{
			Logger:           log,
			DB:               pool,
			Settings:         store,
			AmilPartyID:      *amilPartyFlag,
			DeveloperPartyID: *developerPartyFlag,
		})
		if err != nil {
			return err
		}
		if *retryDeferredFlag {
			_, err = admin.RetryDeferred(ctx, log, eng, os.Stdout)
			return err
		}
		return admin.Reconcile(ctx, eng, os.Stdout)
	}

	if *backfillFactsFlag {
		if err := requireClickHouse("backfill-facts"); err != nil {
			return err
		}
		from, err := parseTimeFlag("start-time", *startTimeFlag)
		if err != nil {
			return err
		}
		to, err := parseTimeFlag("end-time", *endTimeFlag)
		if err != nil {
			return err
		}

		pool, err := openPool(ctx, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		client, err := clickhouse.NewClient(ctx, log, chCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		defer client.Close()

		// Party ids only matter when recording; reading records needs none.
		records, err := ledger.NewStore(ledger.StoreConfig{
			Logger:  log,
			Parties: ledger.Parties{AmilID: "-", DeveloperID: "-"},
		})
		if err != nil {
			return err
		}
		sink, err := clickhouse.NewFactSink(clickhouse.FactSinkConfig{Logger: log, Client: client})
		if err != nil {
			return err
		}
		_, err = admin.BackfillFacts(ctx, log, pool, records, sink, admin.BackfillFactsConfig{
			From:           from,
			To:             to,
			BatchSize:      *batchSizeFlag,
			MaxConcurrency: *maxConcurrencyFlag,
			DryRun:         *dryRunFlag,
			Out:            os.Stdout,
		})
		return err
	}

	flag.Usage()
	return nil
}

func openPool(ctx context.Context, log *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pg.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return pg.NewPool(ctx, log, cfg)
}

func parseTimeFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s format (use RFC3339, e.g. 2026-01-01T00:00:00Z): %w", name, err)
	}
	return t, nil
}
