package admin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ziswaf/revshare/revshare/pkg/clickhouse"
	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
)

const (
	defaultBackfillBatchSize      = 500
	defaultBackfillMaxConcurrency = 4
)

// BackfillFactsConfig holds the configuration for the fact backfill.
type BackfillFactsConfig struct {
	From           time.Time // zero means from the first record
	To             time.Time // zero means up to now
	BatchSize      int
	MaxConcurrency int
	DryRun         bool
	Out            io.Writer
}

type BackfillResult struct {
	Batches int
	Records int64
}

// BackfillFacts copies ledger records paid in [From, To) into the ClickHouse
// fact table. Rows are keyed by record id, so rerunning over the same range
// replaces rather than duplicates.
func BackfillFacts(ctx context.Context, log *slog.Logger, db pg.Querier, records *ledger.Store, sink *clickhouse.FactSink, cfg BackfillFactsConfig) (BackfillResult, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBackfillBatchSize
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultBackfillMaxConcurrency
	}
	out := cfg.Out

	fmt.Fprintf(out, "Backfill Revenue Share Facts\n")
	fmt.Fprintf(out, "  From:            %s\n", formatBound(cfg.From, "first record"))
	fmt.Fprintf(out, "  To:              %s\n", formatBound(cfg.To, "now"))
	fmt.Fprintf(out, "  Batch size:      %d\n", batchSize)
	fmt.Fprintf(out, "  Max concurrency: %d\n", maxConcurrency)
	fmt.Fprintf(out, "  Dry run:         %v\n", cfg.DryRun)
	fmt.Fprintln(out)

	var (
		result  BackfillResult
		written atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for offset := 0; ; offset += batchSize {
		if gctx.Err() != nil {
			break
		}
		page, err := records.List(gctx, db, ledger.Filter{From: cfg.From, To: cfg.To, Limit: batchSize, Offset: offset})
		if err != nil {
			_ = g.Wait()
			return result, err
		}
		if len(page) == 0 {
			break
		}
		result.Batches++
		if cfg.DryRun {
			written.Add(int64(len(page)))
		} else {
			batch := result.Batches
			g.Go(func() error {
				if err := sink.Write(gctx, page...); err != nil {
					return fmt.Errorf("batch %d: %w", batch, err)
				}
				written.Add(int64(len(page)))
				return nil
			})
		}
		if len(page) < batchSize {
			break
		}
	}
	if err := g.Wait(); err != nil {
		result.Records = written.Load()
		return result, err
	}
	result.Records = written.Load()

	if cfg.DryRun {
		fmt.Fprintf(out, "[DRY RUN] Would write %d record(s) in %d batch(es)\n", result.Records, result.Batches)
		return result, nil
	}
	log.Info("admin: fact backfill completed", "records", result.Records, "batches", result.Batches)
	fmt.Fprintf(out, "Wrote %d record(s) in %d batch(es)\n\n", result.Records, result.Batches)

	totals, err := sink.TotalsByFormula(ctx)
	if err != nil {
		fmt.Fprintf(out, "Warning: failed to read fact totals: %v\n", err)
		return result, nil
	}
	fmt.Fprintf(out, "Fact totals by formula:\n")
	for _, t := range totals {
		fmt.Fprintf(out, "  %-12s records=%d amount=%d amil_net=%d\n", t.Formula, t.Records, t.Amount, t.AmilNet)
	}
	return result, nil
}

func formatBound(t time.Time, zero string) string {
	if t.IsZero() {
		return zero
	}
	return t.UTC().Format(time.RFC3339)
}
