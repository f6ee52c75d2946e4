package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/outbox"
)

type FactSinkConfig struct {
	Logger *slog.Logger
	Client Client
}

func (cfg *FactSinkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	return nil
}

// FactSink writes one fact row per ledger record. Rows are keyed by record id
// in a ReplacingMergeTree, so a redelivered event collapses into the same row.
type FactSink struct {
	log *slog.Logger
	cfg FactSinkConfig
}

func NewFactSink(cfg FactSinkConfig) (*FactSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FactSink{log: cfg.Logger, cfg: cfg}, nil
}

// Register subscribes the sink to recorded and reversed events.
func (s *FactSink) Register(r *outbox.Registry) error {
	if err := r.Register(outbox.EventRevenueShareRecorded, s.handle); err != nil {
		return err
	}
	return r.Register(outbox.EventRevenueShareReversed, s.handle)
}

func (s *FactSink) handle(ctx context.Context, ev outbox.Event) error {
	var rec ledger.Record
	if err := ev.Decode(&rec); err != nil {
		return err
	}
	return s.Write(ctx, rec)
}

// Write inserts the fact rows for recs in one batch.
func (s *FactSink) Write(ctx context.Context, recs ...ledger.Record) error {
	if len(recs) == 0 {
		return nil
	}
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	batch, err := conn.PrepareBatch(ctx, `INSERT INTO revshare_fact_records`)
	if err != nil {
		return fmt.Errorf("failed to prepare fact batch: %w", err)
	}
	for _, rec := range recs {
		amount := rec.Transaction.Amount
		if rec.Kind == ledger.KindReversal {
			amount = -amount
		}
		if err := batch.Append(
			rec.ID.String(),
			string(rec.Kind),
			rec.Transaction.ID,
			string(rec.Transaction.ProductType),
			string(rec.Transaction.Pillar),
			string(rec.Formula),
			rec.SnapshotVersion,
			int64(amount),
			int64(rec.Program),
			int64(rec.AmilGross),
			int64(rec.Developer),
			int64(rec.Fundraiser),
			int64(rec.Mitra),
			int64(rec.AmilNet),
			int64(rec.AnimalAmount),
			int64(rec.AdminFee),
			int64(rec.OwnerApp),
			int64(rec.MitraAdmin),
			rec.Transaction.ReferralAgentID,
			rec.Transaction.PartnerID,
			rec.Transaction.PaidAt.UTC(),
			rec.CreatedAt.UTC(),
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append fact for %s: %w", rec.Transaction.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send fact batch: %w", err)
	}
	s.log.Debug("clickhouse: facts written", "count", len(recs))
	return nil
}

// FormulaTotal is the analytics rollup per formula.
type FormulaTotal struct {
	Formula string
	Records uint64
	Amount  int64
	AmilNet int64
}

// TotalsByFormula sums deduplicated facts per formula. Reversal rows carry
// negated amounts, so reversed transactions net to zero.
func (s *FactSink) TotalsByFormula(ctx context.Context) ([]FormulaTotal, error) {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT formula, count() AS records, sum(amount) AS amount, sum(amil_net) AS amil_net
		FROM revshare_fact_records FINAL
		GROUP BY formula
		ORDER BY formula`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fact totals: %w", err)
	}
	defer rows.Close()

	var out []FormulaTotal
	for rows.Next() {
		var t FormulaTotal
		if err := rows.Scan(&t.Formula, &t.Records, &t.Amount, &t.AmilNet); err != nil {
			return nil, fmt.Errorf("failed to scan fact totals: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
