package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
)

type StoreConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Store is the allocation tracker. Every check-and-insert runs under a row
// lock on the share, so it must be called inside a transaction.
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

// Allocate binds amount of one share to a disbursement.
func (s *Store) Allocate(ctx context.Context, q pg.Querier, disbursementID uuid.UUID, source ledger.ShareRef, amount money.Amount) (Item, error) {
	if amount <= 0 {
		return Item{}, fmt.Errorf("allocation amount must be positive, got %s", amount)
	}

	var share money.Amount
	err := q.QueryRow(ctx, `
		SELECT amount FROM revenue_share_party_shares
		WHERE record_id = $1 AND party_type = $2
		FOR UPDATE`, source.RecordID, source.PartyType).Scan(&share)
	if err != nil {
		if pg.IsNotFound(err) {
			return Item{}, fmt.Errorf("allocation: share %s/%s not found", source.RecordID, source.PartyType)
		}
		return Item{}, fmt.Errorf("failed to lock share: %w", err)
	}

	existing, err := s.Allocated(ctx, q, source)
	if err != nil {
		return Item{}, err
	}
	if existing+amount > share {
		s.log.Info("allocation: refused", "record_id", source.RecordID, "party_type", source.PartyType,
			"requested", amount, "remaining", share-existing)
		return Item{}, &OverAllocationError{Source: source, Requested: amount, Remaining: share - existing}
	}

	item := Item{
		ID:             uuid.New(),
		DisbursementID: disbursementID,
		Source:         source,
		Amount:         amount,
		CreatedAt:      s.cfg.Clock.Now().UTC(),
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO disbursement_allocation_items (id, disbursement_id, record_id, party_type, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.DisbursementID, source.RecordID, source.PartyType, item.Amount, item.CreatedAt,
	); err != nil {
		if pg.IsUniqueViolation(err, "") {
			return Item{}, &OverAllocationError{Source: source, Requested: amount, Remaining: share - existing}
		}
		return Item{}, fmt.Errorf("failed to insert allocation: %w", err)
	}
	return item, nil
}

// AllocateFIFO covers amount from the party's oldest open shares. Shares of
// reversed records are never open.
func (s *Store) AllocateFIFO(ctx context.Context, q pg.Querier, disbursementID uuid.UUID, ref party.Ref, amount money.Amount) ([]Item, error) {
	open, err := s.OpenShares(ctx, q, ref, true)
	if err != nil {
		return nil, err
	}
	plan, err := PlanFIFO(open, amount)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(plan))
	for _, p := range plan {
		item, err := s.Allocate(ctx, q, disbursementID, p.Source, p.Amount)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	s.log.Debug("allocation: fifo", "disbursement_id", disbursementID, "party", ref.String(), "amount", amount, "items", len(items))
	return items, nil
}

// OpenShares lists the party's positive shares with allocations, oldest first.
func (s *Store) OpenShares(ctx context.Context, q pg.Querier, ref party.Ref, forUpdate bool) ([]OpenShare, error) {
	query := `
		SELECT sh.record_id, sh.party_type, sh.amount, sh.earned_at,
			COALESCE((SELECT SUM(a.amount) FROM disbursement_allocation_items a
				WHERE a.record_id = sh.record_id AND a.party_type = sh.party_type), 0)
		FROM revenue_share_party_shares sh
		JOIN revenue_share_records r ON r.id = sh.record_id
		WHERE sh.party_type = $1 AND sh.party_id = $2 AND sh.amount > 0 AND r.kind = 'original'
			AND NOT EXISTS (SELECT 1 FROM revenue_share_records rv WHERE rv.reverses_id = r.id)
		ORDER BY sh.earned_at, sh.record_id`
	if forUpdate {
		query += ` FOR UPDATE OF sh`
	}

	rows, err := q.Query(ctx, query, ref.Type, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open shares: %w", err)
	}
	shares, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OpenShare, error) {
		var o OpenShare
		err := row.Scan(&o.Source.RecordID, &o.Source.PartyType, &o.Amount, &o.EarnedAt, &o.Allocated)
		o.EarnedAt = o.EarnedAt.UTC()
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan open shares: %w", err)
	}

	out := shares[:0]
	for _, o := range shares {
		if o.Remaining() > 0 {
			out = append(out, o)
		}
	}
	return out, nil
}

// Allocated sums allocations against one share.
func (s *Store) Allocated(ctx context.Context, q pg.Querier, source ledger.ShareRef) (money.Amount, error) {
	var total money.Amount
	if err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM disbursement_allocation_items
		WHERE record_id = $1 AND party_type = $2`, source.RecordID, source.PartyType,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum allocations: %w", err)
	}
	return total, nil
}

// ForDisbursement lists the items that settle one disbursement.
func (s *Store) ForDisbursement(ctx context.Context, q pg.Querier, disbursementID uuid.UUID) ([]Item, error) {
	rows, err := q.Query(ctx, `
		SELECT a.id, a.disbursement_id, a.record_id, a.party_type, a.amount, a.created_at
		FROM disbursement_allocation_items a
		JOIN revenue_share_party_shares sh ON sh.record_id = a.record_id AND sh.party_type = a.party_type
		WHERE a.disbursement_id = $1
		ORDER BY sh.earned_at, a.record_id`, disbursementID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.ID, &it.DisbursementID, &it.Source.RecordID, &it.Source.PartyType, &it.Amount, &it.CreatedAt)
		it.CreatedAt = it.CreatedAt.UTC()
		return it, err
	})
}
