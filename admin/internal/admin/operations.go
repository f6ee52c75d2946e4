package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/ziswaf/revshare/revshare/pkg/engine"
	"github.com/ziswaf/revshare/revshare/pkg/outbox"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/settings"
)

// ErrReconcileDrift is returned when reconciliation finds any problem, so the
// command exits non-zero under cron.
var ErrReconcileDrift = errors.New("reconciliation found drift")

// RetryDeferred re-runs the deferred queue against the active settings.
func RetryDeferred(ctx context.Context, log *slog.Logger, eng *engine.Engine, out io.Writer) (engine.RetryResult, error) {
	pending, err := eng.ListDeferred(ctx)
	if err != nil {
		return engine.RetryResult{}, err
	}
	fmt.Fprintf(out, "Deferred transactions: %d\n", len(pending))
	if len(pending) == 0 {
		return engine.RetryResult{}, nil
	}

	res, err := eng.RetryDeferred(ctx)
	if err != nil {
		return res, err
	}
	log.Info("admin: deferred retry", "attempted", res.Attempted, "recorded", res.Recorded, "deferred", res.Deferred, "failed", res.Failed)
	fmt.Fprintf(out, "  Attempted: %d\n  Recorded:  %d\n  Deferred:  %d\n  Failed:    %d\n",
		res.Attempted, res.Recorded, res.Deferred, res.Failed)
	return res, nil
}

// Reconcile prints the reconciliation report as JSON.
func Reconcile(ctx context.Context, eng *engine.Engine, out io.Writer) error {
	report, err := eng.Reconcile(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if !report.Clean() {
		return fmt.Errorf("%w: %d party drift(s), %d record issue(s)", ErrReconcileDrift, len(report.Drifts), len(report.Records))
	}
	return nil
}

// ListOutbox prints outbox events in one status.
func ListOutbox(ctx context.Context, db pg.Querier, status outbox.Status, limit int, out io.Writer) error {
	events, err := outbox.List(ctx, db, status, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintf(out, "No %s outbox events\n", status)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tAGGREGATE\tATTEMPTS\tCREATED\tLAST ERROR")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			ev.ID, ev.Type, ev.AggregateID, ev.Attempts, ev.CreatedAt.Format(time.RFC3339), ev.LastError)
	}
	return w.Flush()
}

// RequeueOutbox puts failed events back in the pending queue.
func RequeueOutbox(ctx context.Context, log *slog.Logger, db pg.Querier, dispatcher *outbox.Dispatcher, ids []string, out io.Writer) error {
	var errs []error
	for _, id := range ids {
		if err := dispatcher.Requeue(ctx, db, id); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Info("admin: outbox event requeued", "id", id)
		fmt.Fprintf(out, "requeued %s\n", id)
	}
	return errors.Join(errs...)
}

// ImportSettingsConfig describes a settings file load.
type ImportSettingsConfig struct {
	Path  string
	Actor string
	// Raw stores values that fail validation, matching what the settings
	// screens may have written. Transactions split against such a snapshot
	// are deferred until a valid one is saved.
	Raw bool
	Out io.Writer
}

// ImportSettings loads a JSON object of setting keys to values and stores it
// as the new active snapshot.
func ImportSettings(ctx context.Context, log *slog.Logger, store *settings.Store, cfg ImportSettingsConfig) (settings.Snapshot, error) {
	if cfg.Actor == "" {
		return settings.Snapshot{}, errors.New("actor is required")
	}
	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return settings.Snapshot{}, fmt.Errorf("failed to read settings file: %w", err)
	}
	var kv map[string]string
	if err := json.Unmarshal(data, &kv); err != nil {
		return settings.Snapshot{}, fmt.Errorf("failed to decode settings file: %w", err)
	}

	var snap settings.Snapshot
	if cfg.Raw {
		snap, err = store.Import(ctx, kv, cfg.Actor)
	} else {
		snap, err = store.Save(ctx, kv, cfg.Actor)
	}
	if err != nil {
		return settings.Snapshot{}, err
	}
	log.Info("admin: settings imported", "version", snap.Version, "actor", cfg.Actor, "raw", cfg.Raw)

	stored := snap.KV()
	keys := make([]string, 0, len(stored))
	for k := range stored {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(cfg.Out, "Settings version %d is now active:\n", snap.Version)
	for _, k := range keys {
		fmt.Fprintf(cfg.Out, "  %s = %s\n", k, stored[k])
	}
	if err := snap.Validate(); err != nil {
		fmt.Fprintf(cfg.Out, "\nWarning: %v\nNew transactions will be deferred until a valid snapshot is saved.\n", err)
	}
	return snap, nil
}
