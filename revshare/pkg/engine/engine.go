package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ziswaf/revshare/revshare/pkg/allocation"
	"github.com/ziswaf/revshare/revshare/pkg/balance"
	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/metrics"
	"github.com/ziswaf/revshare/revshare/pkg/outbox"
	"github.com/ziswaf/revshare/revshare/pkg/party"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/split"
)

var ErrReasonRequired = errors.New("a reversal reason is required")

// Status is what happened to a transaction-paid event.
type Status string

const (
	StatusRecorded  Status = "recorded"
	StatusDuplicate Status = "duplicate"
	StatusDeferred  Status = "deferred"
)

type Outcome struct {
	Status Status         `json:"status"`
	Record *ledger.Record `json:"record,omitempty"`
	// Violation is set when the split was deferred.
	Violation *split.ConfigInvariantViolation `json:"-"`
}

// Engine turns transaction-paid events into ledger records and party
// credits, and reverses them on request.
type Engine struct {
	log *slog.Logger
	cfg Config

	ledger      *ledger.Store
	balances    *balance.Store
	allocations *allocation.Store
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ledgerStore, err := ledger.NewStore(ledger.StoreConfig{
		Logger:  cfg.Logger,
		Clock:   cfg.Clock,
		Parties: ledger.Parties{AmilID: cfg.AmilPartyID, DeveloperID: cfg.DeveloperPartyID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger store: %w", err)
	}

	balanceStore, err := balance.NewStore(balance.StoreConfig{Logger: cfg.Logger, Clock: cfg.Clock})
	if err != nil {
		return nil, fmt.Errorf("failed to create balance store: %w", err)
	}

	allocationStore, err := allocation.NewStore(allocation.StoreConfig{Logger: cfg.Logger, Clock: cfg.Clock})
	if err != nil {
		return nil, fmt.Errorf("failed to create allocation store: %w", err)
	}

	return &Engine{
		log:         cfg.Logger,
		cfg:         cfg,
		ledger:      ledgerStore,
		balances:    balanceStore,
		allocations: allocationStore,
	}, nil
}

func (e *Engine) Ledger() *ledger.Store { return e.ledger }

func (e *Engine) Balances() *balance.Store { return e.balances }

func (e *Engine) Allocations() *allocation.Store { return e.allocations }

// HandleTransactionPaid splits tx under the active settings snapshot, stores
// the record and credits every party in one database transaction. Redelivery
// of a recorded transaction is a no-op. A snapshot that cannot produce a valid
// split defers the transaction for an operator instead of failing it.
func (e *Engine) HandleTransactionPaid(ctx context.Context, tx split.Transaction) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.UnitOfWorkDuration.WithLabelValues("transaction_paid").Observe(time.Since(start).Seconds())
	}()

	tx, err := tx.Normalize()
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues("", "invalid").Inc()
		return Outcome{}, err
	}
	tx.PaidAt = tx.PaidAt.UTC()

	// A redelivery never depends on the settings being readable.
	if rec, err := e.ledger.Get(ctx, e.cfg.DB, tx.ID); err == nil {
		metrics.TransactionsTotal.WithLabelValues(string(rec.Result.Formula), string(StatusDuplicate)).Inc()
		e.log.Info("engine: transaction already recorded", "transaction_id", tx.ID, "record_id", rec.ID)
		return Outcome{Status: StatusDuplicate, Record: &rec}, nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		metrics.TransactionsTotal.WithLabelValues("", "error").Inc()
		return Outcome{}, err
	}

	snap, err := e.cfg.Settings.GetActiveConfigSnapshot(ctx)
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues("", "error").Inc()
		return Outcome{}, fmt.Errorf("failed to read settings snapshot: %w", err)
	}

	r, err := split.Compute(tx, snap)
	if err != nil {
		var v *split.ConfigInvariantViolation
		if errors.As(err, &v) {
			return e.deferTransaction(ctx, tx, v)
		}
		metrics.TransactionsTotal.WithLabelValues("", "invalid").Inc()
		return Outcome{}, err
	}

	var out Outcome
	err = pg.WithTx(ctx, e.cfg.DB, func(q pgx.Tx) error {
		rec, err := e.ledger.Record(ctx, q, tx, r)
		if errors.Is(err, ledger.ErrAlreadyRecorded) {
			out = Outcome{Status: StatusDuplicate, Record: &rec}
			return nil
		}
		if err != nil {
			return err
		}

		if err := e.balances.Lock(ctx, q, shareParties(rec.Shares)...); err != nil {
			return err
		}
		for _, sh := range rec.Shares {
			if _, err := e.balances.Credit(ctx, q, sh.Party, sh.Amount, balance.ReasonRevenueShare, rec.ID.String()); err != nil {
				return err
			}
		}

		if err := outbox.Publish(ctx, q, outbox.EventRevenueShareRecorded, tx.ID, rec, rec.CreatedAt); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `DELETE FROM deferred_transactions WHERE transaction_id = $1`, tx.ID); err != nil {
			return fmt.Errorf("failed to clear deferred transaction: %w", err)
		}
		out = Outcome{Status: StatusRecorded, Record: &rec}
		return nil
	})
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues(string(r.Formula), "error").Inc()
		e.log.Error("engine: failed to record transaction", "transaction_id", tx.ID, "error", err)
		return Outcome{}, err
	}

	metrics.TransactionsTotal.WithLabelValues(string(r.Formula), string(out.Status)).Inc()
	if out.Status == StatusRecorded {
		for _, sh := range out.Record.Shares {
			metrics.SplitAmountTotal.WithLabelValues(string(sh.Party.Type)).Add(float64(sh.Amount))
		}
		e.log.Info("engine: transaction recorded", "transaction_id", tx.ID, "formula", r.Formula, "snapshot_version", r.SnapshotVersion, "shares", len(out.Record.Shares))
	} else {
		e.log.Info("engine: transaction already recorded", "transaction_id", tx.ID, "record_id", out.Record.ID)
	}
	return out, nil
}

// Reverse offsets the record of transactionID and debits every party it
// credited. A record with shares already paid out is flagged for manual
// reconciliation and the returned error wraps ledger.ErrAllocationConflict.
func (e *Engine) Reverse(ctx context.Context, transactionID, reason string) (ledger.Record, error) {
	start := time.Now()
	defer func() {
		metrics.UnitOfWorkDuration.WithLabelValues("reverse").Observe(time.Since(start).Seconds())
	}()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		metrics.ReversalsTotal.WithLabelValues("invalid").Inc()
		return ledger.Record{}, ErrReasonRequired
	}

	var rev ledger.Record
	err := pg.WithTx(ctx, e.cfg.DB, func(q pgx.Tx) error {
		orig, err := e.ledger.Get(ctx, q, transactionID)
		if err != nil {
			return err
		}
		// Balances before shares, the same order a payout takes them.
		if err := e.balances.Lock(ctx, q, shareParties(orig.Shares)...); err != nil {
			return err
		}

		rev, err = e.ledger.Reverse(ctx, q, transactionID, reason)
		if err != nil {
			return err
		}
		for _, sh := range rev.Shares {
			if _, err := e.balances.Debit(ctx, q, sh.Party, -sh.Amount, balance.ReasonReversal, rev.ID.String()); err != nil {
				return err
			}
		}
		return outbox.Publish(ctx, q, outbox.EventRevenueShareReversed, transactionID, rev, rev.CreatedAt)
	})

	switch {
	case err == nil:
		metrics.ReversalsTotal.WithLabelValues("ok").Inc()
		e.log.Info("engine: transaction reversed", "transaction_id", transactionID, "record_id", rev.ID)
		return rev, nil
	case errors.Is(err, ledger.ErrAllocationConflict):
		metrics.ReversalsTotal.WithLabelValues("allocation_conflict").Inc()
		flag, ferr := e.raiseFlag(ctx, transactionID, FlagAllocationConflict, err.Error())
		if ferr != nil {
			return ledger.Record{}, errors.Join(err, ferr)
		}
		e.log.Warn("engine: reversal needs reconciliation", "transaction_id", transactionID, "flag_id", flag.ID, "error", err)
		return ledger.Record{}, fmt.Errorf("%w; flagged as %s", err, flag.ID)
	case errors.Is(err, ledger.ErrAlreadyReversed):
		metrics.ReversalsTotal.WithLabelValues("already_reversed").Inc()
	case errors.Is(err, ledger.ErrNotFound):
		metrics.ReversalsTotal.WithLabelValues("not_found").Inc()
	default:
		metrics.ReversalsTotal.WithLabelValues("error").Inc()
		e.log.Error("engine: reversal failed", "transaction_id", transactionID, "error", err)
	}
	return ledger.Record{}, err
}

func shareParties(shares []ledger.Share) []party.Ref {
	refs := make([]party.Ref, 0, len(shares))
	for _, sh := range shares {
		refs = append(refs, sh.Party)
	}
	return refs
}
