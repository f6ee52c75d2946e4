package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ziswaf/revshare/api/config"
	"github.com/ziswaf/revshare/api/handlers"
	"github.com/ziswaf/revshare/revshare/pkg/clickhouse"
	"github.com/ziswaf/revshare/revshare/pkg/disbursement"
	"github.com/ziswaf/revshare/revshare/pkg/engine"
	"github.com/ziswaf/revshare/revshare/pkg/metrics"
	"github.com/ziswaf/revshare/revshare/pkg/notify"
	"github.com/ziswaf/revshare/revshare/pkg/outbox"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/proof"
	"github.com/ziswaf/revshare/revshare/pkg/report"
	"github.com/ziswaf/revshare/revshare/pkg/settings"
	"github.com/ziswaf/revshare/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultHTTPAddr    = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", "text", "log format: text or json")
	httpAddrFlag := flag.String("http-addr", defaultHTTPAddr, "address to listen on for the API")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "address to listen on for prometheus metrics (empty disables)")
	envFileFlag := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "maximum time to drain in-flight requests on shutdown")
	flag.Parse()

	log, err := logger.FromFormat(*logFormatFlag, *verboseFlag)
	if err != nil {
		return err
	}

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}

	cfg, err := config.LoadFromEnv(*httpAddrFlag, *metricsAddrFlag)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.RunMigrations {
		if err := pg.MigrateUp(ctx, log, cfg.Postgres.ConnString()); err != nil {
			return err
		}
	}

	pool, err := pg.NewPool(ctx, log, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	clock := clockwork.NewRealClock()

	settingsStore, err := settings.NewStore(settings.StoreConfig{Logger: log, DB: pool})
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Config{
		Logger:           log,
		Clock:            clock,
		DB:               pool,
		Settings:         settingsStore,
		AmilPartyID:      cfg.AmilPartyID,
		DeveloperPartyID: cfg.DeveloperPartyID,
	})
	if err != nil {
		return err
	}

	workflowCfg := disbursement.WorkflowConfig{
		Logger:      log,
		Clock:       clock,
		DB:          pool,
		Balances:    eng.Balances(),
		Allocations: eng.Allocations(),
	}
	if cfg.ProofBucket != "" {
		s3Client, err := proof.NewS3Client(ctx, cfg.ProofRegion, cfg.ProofEndpoint)
		if err != nil {
			return err
		}
		verifier, err := proof.NewVerifier(proof.Config{
			Logger: log,
			Client: s3Client,
			Bucket: cfg.ProofBucket,
			Prefix: cfg.ProofPrefix,
		})
		if err != nil {
			return err
		}
		workflowCfg.Proofs = verifier
		log.Info("payment proofs verified against s3", "bucket", cfg.ProofBucket)
	}
	workflow, err := disbursement.NewWorkflow(workflowCfg)
	if err != nil {
		return err
	}

	reports, err := report.New(report.Config{Logger: log, DB: pool})
	if err != nil {
		return err
	}

	registry, closeSinks, err := setupOutbox(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	dispatcher, err := outbox.NewDispatcher(outbox.DispatcherConfig{
		Logger:   log,
		Clock:    clock,
		DB:       pool,
		Registry: registry,
		Interval: cfg.DispatchInterval,
	})
	if err != nil {
		return err
	}

	var limiter *handlers.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = handlers.NewRateLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMinute)), cfg.RateLimitBurst)
	}

	server, err := handlers.NewServer(handlers.Config{
		Logger:         log,
		DB:             pool,
		Engine:         eng,
		Workflow:       workflow,
		Reports:        reports,
		Addr:           cfg.HTTPAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimiter:    limiter,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", cfg.MetricsAddr)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error { return dispatcher.Run(gctx) })
	if limiter != nil {
		g.Go(func() error {
			ticker := clock.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.Chan():
					if n := limiter.Sweep(); n > 0 {
						log.Debug("api: swept idle rate limiters", "count", n)
					}
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining requests", "timeout", *shutdownTimeoutFlag)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeoutFlag)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("api stopped")
	return nil
}

// setupOutbox registers the operator notifier and, when configured, the
// ClickHouse fact sink. The returned func releases their clients.
func setupOutbox(ctx context.Context, log *slog.Logger, cfg *config.Config) (*outbox.Registry, func(), error) {
	registry := outbox.NewRegistry()
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	reporter, err := notify.NewReporter(cfg.SentryDSN, cfg.SentryEnvironment)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, func() { reporter.Flush(2 * time.Second) })

	var slack *notify.Slack
	if cfg.SlackBotToken != "" {
		slack, err = notify.NewSlack(notify.SlackConfig{
			Logger:  log,
			Poster:  notify.NewSlackPoster(cfg.SlackBotToken),
			Channel: cfg.SlackChannel,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
	}
	operator, err := notify.NewOperator(notify.OperatorConfig{Logger: log, Slack: slack, Reporter: reporter})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	if err := operator.Register(registry); err != nil {
		closeAll()
		return nil, nil, err
	}

	if cfg.ClickHouse != nil {
		if cfg.RunMigrations {
			if err := clickhouse.Up(ctx, log, *cfg.ClickHouse); err != nil {
				closeAll()
				return nil, nil, err
			}
		}
		client, err := clickhouse.NewClient(ctx, log, *cfg.ClickHouse)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		sink, err := clickhouse.NewFactSink(clickhouse.FactSinkConfig{Logger: log, Client: client})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		if err := sink.Register(registry); err != nil {
			closeAll()
			return nil, nil, err
		}
	}

	return registry, closeAll, nil
}
