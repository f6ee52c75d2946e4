package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/ziswaf/revshare/revshare/pkg/metrics"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
)

type DispatcherConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	DB       pg.DB
	Registry *Registry

	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Lease hides a claimed event from other dispatchers while its handler runs.
	Lease time.Duration
}

func (cfg *DispatcherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	if cfg.Registry == nil {
		return errors.New("registry is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Minute
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	return nil
}

// Dispatcher polls pending events and hands them to the registry.
type Dispatcher struct {
	log *slog.Logger
	cfg DispatcherConfig
}

// Result counts one dispatch cycle.
type Result struct {
	Claimed   int
	Published int
	Retried   int
	Failed    int
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{log: cfg.Logger, cfg: cfg}, nil
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("outbox: dispatcher started", "interval", d.cfg.Interval, "types", d.cfg.Registry.Types())
	defer d.log.Info("outbox: dispatcher stopped")

	ticker := d.cfg.Clock.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("outbox: dispatch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

// DispatchOnce claims one batch of due events and delivers each of them.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() { metrics.OutboxDispatchDuration.Observe(time.Since(start).Seconds()) }()

	events, err := d.claim(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{Claimed: len(events)}
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		status, err := d.deliver(ctx, ev)
		if err != nil {
			return res, err
		}
		switch status {
		case StatusPublished:
			res.Published++
		case StatusFailed:
			res.Failed++
		default:
			res.Retried++
		}
	}
	if res.Claimed > 0 {
		d.log.Debug("outbox: dispatched", "claimed", res.Claimed, "published", res.Published, "retried", res.Retried, "failed", res.Failed)
	}
	return res, nil
}

func (d *Dispatcher) claim(ctx context.Context) ([]Event, error) {
	now := d.cfg.Clock.Now().UTC()
	var events []Event
	err := pg.WithTx(ctx, d.cfg.DB, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE outbox_events SET attempts = attempts + 1, available_at = $2
			WHERE id IN (
				SELECT id FROM outbox_events
				WHERE status = 'pending' AND available_at <= $1
				ORDER BY available_at, created_at
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, event_type, aggregate_id, payload, status, attempts, last_error, available_at, created_at, published_at`,
			now, now.Add(d.cfg.Lease), d.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to claim outbox events: %w", err)
		}
		events, err = pgx.CollectRows(rows, scanEvent)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) (Status, error) {
	now := d.cfg.Clock.Now().UTC()

	handleErr := d.cfg.Registry.Handle(ctx, ev)
	if handleErr == nil {
		if _, err := d.cfg.DB.Exec(ctx, `
			UPDATE outbox_events SET status = 'published', published_at = $2, last_error = ''
			WHERE id = $1`, ev.ID, now); err != nil {
			return "", fmt.Errorf("failed to mark event %s published: %w", ev.ID, err)
		}
		metrics.OutboxEventsTotal.WithLabelValues(ev.Type, string(StatusPublished)).Inc()
		return StatusPublished, nil
	}

	status := StatusPending
	if ev.Attempts >= d.cfg.MaxAttempts || errors.Is(handleErr, ErrHandlerNotRegistered) {
		status = StatusFailed
	}
	next := now.Add(d.backoff(ev.Attempts))
	if _, err := d.cfg.DB.Exec(ctx, `
		UPDATE outbox_events SET status = $2, last_error = $3, available_at = $4
		WHERE id = $1`, ev.ID, status, truncate(handleErr.Error(), 1024), next); err != nil {
		return "", fmt.Errorf("failed to record delivery failure for %s: %w", ev.ID, err)
	}

	if status == StatusFailed {
		d.log.Error("outbox: event failed permanently", "event_id", ev.ID, "event_type", ev.Type, "attempts", ev.Attempts, "error", handleErr)
	} else {
		d.log.Warn("outbox: delivery failed, will retry", "event_id", ev.ID, "event_type", ev.Type, "attempts", ev.Attempts, "next_attempt", next, "error", handleErr)
	}
	metrics.OutboxEventsTotal.WithLabelValues(ev.Type, string(status)).Inc()
	return status, nil
}

// backoff doubles per attempt from BaseBackoff up to MaxBackoff.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	b := d.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		b *= 2
		if b >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return b
}

// Requeue puts a failed event back in the pending queue.
func (d *Dispatcher) Requeue(ctx context.Context, q pg.Querier, id string) error {
	tag, err := q.Exec(ctx, `
		UPDATE outbox_events SET status = 'pending', attempts = 0, available_at = $2
		WHERE id = $1 AND status = 'failed'`, id, d.cfg.Clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to requeue event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox: no failed event %s", id)
	}
	return nil
}

// List returns events in one status, oldest first.
func List(ctx context.Context, q pg.Querier, status Status, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx, `
		SELECT id, event_type, aggregate_id, payload, status, attempts, last_error, available_at, created_at, published_at
		FROM outbox_events WHERE status = $1
		ORDER BY seq LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox events: %w", err)
	}
	return pgx.CollectRows(rows, scanEvent)
}

func scanEvent(row pgx.CollectableRow) (Event, error) {
	var ev Event
	var payload []byte
	err := row.Scan(&ev.ID, &ev.Type, &ev.AggregateID, &payload, &ev.Status, &ev.Attempts, &ev.LastError,
		&ev.AvailableAt, &ev.CreatedAt, &ev.PublishedAt)
	ev.Payload = payload
	ev.AvailableAt = ev.AvailableAt.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, err
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
