package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/metrics"
	"github.com/ziswaf/revshare/revshare/pkg/outbox"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/split"
)

// Deferred is a transaction waiting for a settings snapshot that can split it.
type Deferred struct {
	Transaction     split.Transaction `json:"transaction"`
	Rule            string            `json:"rule"`
	Error           string            `json:"error"`
	SnapshotVersion int64             `json:"snapshot_version"`
	Attempts        int               `json:"attempts"`
	FirstDeferredAt time.Time         `json:"first_deferred_at"`
	LastAttemptAt   time.Time         `json:"last_attempt_at"`
}

type RetryResult struct {
	Attempted int `json:"attempted"`
	Recorded  int `json:"recorded"`
	Deferred  int `json:"deferred"`
	Failed    int `json:"failed"`
}

func (e *Engine) deferTransaction(ctx context.Context, tx split.Transaction, v *split.ConfigInvariantViolation) (Outcome, error) {
	payload, err := json.Marshal(tx)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to encode deferred transaction: %w", err)
	}

	var out Outcome
	var attempts int
	err = pg.WithTx(ctx, e.cfg.DB, func(q pgx.Tx) error {
		rec, err := e.ledger.Get(ctx, q, tx.ID)
		if err == nil {
			out = Outcome{Status: StatusDuplicate, Record: &rec}
			return nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		now := e.cfg.Clock.Now().UTC()
		if err := q.QueryRow(ctx, `
			INSERT INTO deferred_transactions (transaction_id, payload, rule, error, snapshot_version, attempts, first_deferred_at, last_attempt_at)
			VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
			ON CONFLICT (transaction_id) DO UPDATE SET
				payload = EXCLUDED.payload,
				rule = EXCLUDED.rule,
				error = EXCLUDED.error,
				snapshot_version = EXCLUDED.snapshot_version,
				attempts = deferred_transactions.attempts + 1,
				last_attempt_at = EXCLUDED.last_attempt_at
			RETURNING attempts`,
			tx.ID, payload, v.Rule, v.Error(), v.SnapshotVersion, now,
		).Scan(&attempts); err != nil {
			return fmt.Errorf("failed to defer transaction: %w", err)
		}

		out = Outcome{Status: StatusDeferred, Violation: v}
		return outbox.Publish(ctx, q, outbox.EventTransactionDeferred, tx.ID, outbox.TransactionDeferred{
			TransactionID:   tx.ID,
			Rule:            v.Rule,
			Detail:          v.Detail,
			SnapshotVersion: v.SnapshotVersion,
			Attempts:        attempts,
		}, now)
	})
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues("", "error").Inc()
		e.log.Error("engine: failed to defer transaction", "transaction_id", tx.ID, "error", err)
		return Outcome{}, err
	}

	metrics.TransactionsTotal.WithLabelValues("", string(out.Status)).Inc()
	if out.Status == StatusDeferred {
		e.log.Warn("engine: transaction deferred", "transaction_id", tx.ID, "rule", v.Rule, "snapshot_version", v.SnapshotVersion, "attempts", attempts)
	}
	return out, nil
}

// ListDeferred returns deferred transactions, oldest first.
func (e *Engine) ListDeferred(ctx context.Context) ([]Deferred, error) {
	rows, err := e.cfg.DB.Query(ctx, `
		SELECT payload, rule, error, snapshot_version, attempts, first_deferred_at, last_attempt_at
		FROM deferred_transactions ORDER BY first_deferred_at, transaction_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list deferred transactions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Deferred, error) {
		var d Deferred
		var payload []byte
		if err := row.Scan(&payload, &d.Rule, &d.Error, &d.SnapshotVersion, &d.Attempts, &d.FirstDeferredAt, &d.LastAttemptAt); err != nil {
			return Deferred{}, err
		}
		if err := json.Unmarshal(payload, &d.Transaction); err != nil {
			return Deferred{}, fmt.Errorf("failed to decode deferred transaction: %w", err)
		}
		d.FirstDeferredAt = d.FirstDeferredAt.UTC()
		d.LastAttemptAt = d.LastAttemptAt.UTC()
		return d, nil
	})
}

// RetryDeferred re-runs every deferred transaction against the active
// snapshot. Recorded transactions leave the queue; the rest stay with their
// attempt count bumped.
func (e *Engine) RetryDeferred(ctx context.Context) (RetryResult, error) {
	pending, err := e.ListDeferred(ctx)
	if err != nil {
		return RetryResult{}, err
	}

	var res RetryResult
	for _, d := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempted++
		out, err := e.HandleTransactionPaid(ctx, d.Transaction)
		if err != nil {
			res.Failed++
			e.log.Error("engine: deferred retry failed", "transaction_id", d.Transaction.ID, "error", err)
			continue
		}
		switch out.Status {
		case StatusDeferred:
			res.Deferred++
		case StatusDuplicate:
			if _, err := e.cfg.DB.Exec(ctx, `DELETE FROM deferred_transactions WHERE transaction_id = $1`, d.Transaction.ID); err != nil {
				return res, fmt.Errorf("failed to clear deferred transaction: %w", err)
			}
			res.Recorded++
		default:
			res.Recorded++
		}
	}

	metrics.DeferredTransactions.Set(float64(res.Deferred + res.Failed))
	e.log.Info("engine: deferred retry finished", "attempted", res.Attempted, "recorded", res.Recorded, "deferred", res.Deferred, "failed", res.Failed)
	return res, nil
}
