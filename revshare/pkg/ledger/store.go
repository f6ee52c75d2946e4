package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/split"
)

type StoreConfig struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Parties Parties
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if strings.TrimSpace(cfg.Parties.AmilID) == "" {
		return errors.New("amil party id is required")
	}
	if strings.TrimSpace(cfg.Parties.DeveloperID) == "" {
		return errors.New("developer party id is required")
	}
	return nil
}

// Store reads and writes ledger rows through whatever Querier it is handed,
// so callers decide the transaction boundary.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

func (s *Store) Parties() Parties { return s.cfg.Parties }

const recordColumns = `id, kind, reverses_id, transaction_id, product_type, pillar, amount, admin_fee,
	animal_type, referral_agent_id, partner_id, paid_at, formula, snapshot_version,
	program_amount, amil_gross, developer_amount, fundraiser_amount, mitra_amount, amil_net,
	animal_amount, owner_app_amount, mitra_admin_amount, reason, created_at`

// Record stores the split for tx. A second call for the same transaction
// returns the stored record with ErrAlreadyRecorded and writes nothing.
func (s *Store) Record(ctx context.Context, q pg.Querier, tx split.Transaction, r split.Result) (Record, error) {
	tx, err := tx.Normalize()
	if err != nil {
		return Record{}, err
	}
	if !r.Conserved(tx.Amount) {
		return Record{}, fmt.Errorf("ledger: refusing unconserved split for %s", tx.ID)
	}

	rec := Record{
		ID:          uuid.New(),
		Kind:        KindOriginal,
		Transaction: tx,
		Result:      r,
		CreatedAt:   s.cfg.Clock.Now().UTC(),
	}
	if r.Formula == split.FormulaB {
		rec.Transaction.AdminFee = r.AdminFee
	}

	inserted, err := s.insert(ctx, q, rec)
	if err != nil {
		return Record{}, err
	}
	if !inserted {
		existing, err := s.Get(ctx, q, tx.ID)
		if err != nil {
			return Record{}, err
		}
		s.log.Info("ledger: already recorded", "transaction_id", tx.ID, "record_id", existing.ID)
		return existing, ErrAlreadyRecorded
	}

	rec.Shares = SharesFor(rec.Transaction, r, s.cfg.Parties)
	for i := range rec.Shares {
		rec.Shares[i].RecordID = rec.ID
	}
	if err := insertShares(ctx, q, rec.Shares); err != nil {
		return Record{}, err
	}

	s.log.Debug("ledger: recorded", "transaction_id", tx.ID, "record_id", rec.ID, "formula", r.Formula)
	return rec, nil
}

// Reverse writes an offsetting record for transactionID. It fails with
// ErrAllocationConflict when any share was already paid out. The returned
// record carries negated shares for the caller to debit.
func (s *Store) Reverse(ctx context.Context, q pg.Querier, transactionID, reason string) (Record, error) {
	orig, err := s.get(ctx, q, transactionID, KindOriginal, true)
	if err != nil {
		return Record{}, err
	}

	if _, err := s.get(ctx, q, transactionID, KindReversal, false); err == nil {
		return Record{}, ErrAlreadyReversed
	} else if !errors.Is(err, ErrNotFound) {
		return Record{}, err
	}

	// Lock the shares so no allocation can land between the check and the insert.
	if _, err := q.Exec(ctx,
		`SELECT 1 FROM revenue_share_party_shares WHERE record_id = $1 FOR UPDATE`, orig.ID); err != nil {
		return Record{}, fmt.Errorf("failed to lock party shares: %w", err)
	}
	var allocated money.Amount
	if err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM disbursement_allocation_items WHERE record_id = $1`, orig.ID,
	).Scan(&allocated); err != nil {
		return Record{}, fmt.Errorf("failed to sum allocations: %w", err)
	}
	if allocated > 0 {
		return orig, fmt.Errorf("%w: %s has %s allocated", ErrAllocationConflict, transactionID, allocated)
	}

	origID := orig.ID
	rev := Record{
		ID:          uuid.New(),
		Kind:        KindReversal,
		ReversesID:  &origID,
		Transaction: orig.Transaction,
		Result:      orig.Result.Negate(),
		Reason:      reason,
		CreatedAt:   s.cfg.Clock.Now().UTC(),
	}
	inserted, err := s.insert(ctx, q, rev)
	if err != nil {
		return Record{}, err
	}
	if !inserted {
		return Record{}, ErrAlreadyReversed
	}

	for _, sh := range orig.Shares {
		rev.Shares = append(rev.Shares, Share{
			RecordID: rev.ID,
			Party:    sh.Party,
			Amount:   -sh.Amount,
			EarnedAt: rev.CreatedAt,
		})
	}
	if err := insertShares(ctx, q, rev.Shares); err != nil {
		return Record{}, err
	}

	s.log.Info("ledger: reversed", "transaction_id", transactionID, "record_id", rev.ID, "reason", reason)
	return rev, nil
}

// Get returns the original record for a transaction.
func (s *Store) Get(ctx context.Context, q pg.Querier, transactionID string) (Record, error) {
	return s.get(ctx, q, transactionID, KindOriginal, false)
}

// GetReversal returns the reversal record for a transaction, if any.
func (s *Store) GetReversal(ctx context.Context, q pg.Querier, transactionID string) (Record, error) {
	return s.get(ctx, q, transactionID, KindReversal, false)
}

func (s *Store) get(ctx context.Context, q pg.Querier, transactionID string, kind Kind, forUpdate bool) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM revenue_share_records WHERE transaction_id = $1 AND kind = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec, err := scanRecord(q.QueryRow(ctx, query, transactionID, kind))
	if err != nil {
		if pg.IsNotFound(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to read revenue share record: %w", err)
	}
	shares, err := s.shares(ctx, q, rec.ID)
	if err != nil {
		return Record{}, err
	}
	rec.Shares = shares
	return rec, nil
}

// List returns records ordered by paid_at, then created_at.
func (s *Store) List(ctx context.Context, q pg.Querier, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.From.IsZero() {
		where = append(where, "paid_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "paid_at < "+arg(f.To))
	}
	if f.ProductType != "" {
		where = append(where, "product_type = "+arg(string(f.ProductType)))
	}
	if f.Kind != "" {
		where = append(where, "kind = "+arg(string(f.Kind)))
	}

	query := `SELECT ` + recordColumns + ` FROM revenue_share_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY paid_at, created_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list revenue share records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		return scanRecord(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan revenue share records: %w", err)
	}

	for i := range records {
		shares, err := s.shares(ctx, q, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Shares = shares
	}
	return records, nil
}

// PartyShares lists every share earned (or reversed) by one party, oldest first.
func (s *Store) PartyShares(ctx context.Context, q pg.Querier, ref party.Ref) ([]Share, error) {
	rows, err := q.Query(ctx, `
		SELECT record_id, party_type, party_id, amount, earned_at
		FROM revenue_share_party_shares
		WHERE party_type = $1 AND party_id = $2
		ORDER BY earned_at, record_id`, ref.Type, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list party shares: %w", err)
	}
	return collectShares(rows)
}

func (s *Store) shares(ctx context.Context, q pg.Querier, recordID uuid.UUID) ([]Share, error) {
	rows, err := q.Query(ctx, `
		SELECT record_id, party_type, party_id, amount, earned_at
		FROM revenue_share_party_shares
		WHERE record_id = $1`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to read party shares: %w", err)
	}
	shares, err := collectShares(rows)
	if err != nil {
		return nil, err
	}
	ordered := make([]Share, 0, len(shares))
	for _, t := range party.Types {
		for _, sh := range shares {
			if sh.Party.Type == t {
				ordered = append(ordered, sh)
			}
		}
	}
	return ordered, nil
}

func (s *Store) insert(ctx context.Context, q pg.Querier, rec Record) (bool, error) {
	tx, r := rec.Transaction, rec.Result
	tag, err := q.Exec(ctx, `
		INSERT INTO revenue_share_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (transaction_id, kind) DO NOTHING`,
		rec.ID, rec.Kind, rec.ReversesID, tx.ID, tx.ProductType, tx.Pillar, tx.Amount, tx.AdminFee,
		tx.AnimalType, tx.ReferralAgentID, tx.PartnerID, tx.PaidAt, r.Formula, r.SnapshotVersion,
		r.Program, r.AmilGross, r.Developer, r.Fundraiser, r.Mitra, r.AmilNet,
		r.AnimalAmount, r.OwnerApp, r.MitraAdmin, rec.Reason, rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert revenue share record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func insertShares(ctx context.Context, q pg.Querier, shares []Share) error {
	for _, sh := range shares {
		if _, err := q.Exec(ctx, `
			INSERT INTO revenue_share_party_shares (record_id, party_type, party_id, amount, earned_at)
			VALUES ($1, $2, $3, $4, $5)`,
			sh.RecordID, sh.Party.Type, sh.Party.ID, sh.Amount, sh.EarnedAt,
		); err != nil {
			return fmt.Errorf("failed to insert %s share: %w", sh.Party.Type, err)
		}
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec Record
		tx  = &rec.Transaction
		r   = &rec.Result
	)
	err := row.Scan(
		&rec.ID, &rec.Kind, &rec.ReversesID, &tx.ID, &tx.ProductType, &tx.Pillar, &tx.Amount, &tx.AdminFee,
		&tx.AnimalType, &tx.ReferralAgentID, &tx.PartnerID, &tx.PaidAt, &r.Formula, &r.SnapshotVersion,
		&r.Program, &r.AmilGross, &r.Developer, &r.Fundraiser, &r.Mitra, &r.AmilNet,
		&r.AnimalAmount, &r.OwnerApp, &r.MitraAdmin, &rec.Reason, &rec.CreatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if r.Formula == split.FormulaB {
		r.AdminFee = tx.AdminFee
		if rec.Kind == KindReversal {
			r.AdminFee = -tx.AdminFee
		}
	}
	tx.PaidAt = tx.PaidAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func collectShares(rows pgx.Rows) ([]Share, error) {
	shares, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Share, error) {
		var sh Share
		err := row.Scan(&sh.RecordID, &sh.Party.Type, &sh.Party.ID, &sh.Amount, &sh.EarnedAt)
		sh.EarnedAt = sh.EarnedAt.UTC()
		return sh, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan party shares: %w", err)
	}
	return shares, nil
}
