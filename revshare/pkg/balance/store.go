package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

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

// Lock creates any missing balance rows and locks them for the rest of the
// transaction. Rows are locked in a fixed order so concurrent callers cannot deadlock.
func (s *Store) Lock(ctx context.Context, q pg.Querier, refs ...party.Ref) error {
	sorted := append([]party.Ref(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].ID < sorted[j].ID
	})

	now := s.cfg.Clock.Now().UTC()
	var prev party.Ref
	for i, ref := range sorted {
		if i > 0 && ref == prev {
			continue
		}
		prev = ref
		if _, err := q.Exec(ctx, `
			INSERT INTO party_balances (party_type, party_id, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (party_type, party_id) DO NOTHING`, ref.Type, ref.ID, now); err != nil {
			return fmt.Errorf("failed to create balance for %s: %w", ref, err)
		}
		if _, err := q.Exec(ctx, `
			SELECT 1 FROM party_balances WHERE party_type = $1 AND party_id = $2 FOR UPDATE`, ref.Type, ref.ID); err != nil {
			return fmt.Errorf("failed to lock balance for %s: %w", ref, err)
		}
	}
	return nil
}

// Credit adds amount to the party's balance and earnings.
func (s *Store) Credit(ctx context.Context, q pg.Querier, ref party.Ref, amount money.Amount, reason Reason, reference string) (Movement, error) {
	if err := ref.Validate(); err != nil {
		return Movement{}, err
	}
	if amount <= 0 {
		return Movement{}, ErrInvalidAmount
	}

	now := s.cfg.Clock.Now().UTC()
	var after money.Amount
	err := q.QueryRow(ctx, `
		INSERT INTO party_balances (party_type, party_id, current_balance, total_earned, total_withdrawn, updated_at)
		VALUES ($1, $2, $3, $3, 0, $4)
		ON CONFLICT (party_type, party_id) DO UPDATE SET
			current_balance = party_balances.current_balance + EXCLUDED.current_balance,
			total_earned = party_balances.total_earned + EXCLUDED.total_earned,
			updated_at = EXCLUDED.updated_at
		RETURNING current_balance`, ref.Type, ref.ID, amount, now).Scan(&after)
	if err != nil {
		return Movement{}, fmt.Errorf("failed to credit %s: %w", ref, err)
	}

	return s.appendMovement(ctx, q, ref, amount, reason, reference, after, now)
}

// Debit subtracts amount in a single conditional update, so the balance is
// never read and written separately and can never go negative.
func (s *Store) Debit(ctx context.Context, q pg.Querier, ref party.Ref, amount money.Amount, reason Reason, reference string) (Movement, error) {
	if err := ref.Validate(); err != nil {
		return Movement{}, err
	}
	if amount <= 0 {
		return Movement{}, ErrInvalidAmount
	}

	var earnedDelta, withdrawnDelta money.Amount
	switch reason {
	case ReasonReversal:
		earnedDelta = amount
	case ReasonDisbursement:
		withdrawnDelta = amount
	default:
		return Movement{}, fmt.Errorf("balance: %q is not a debit reason", reason)
	}

	now := s.cfg.Clock.Now().UTC()
	var after money.Amount
	err := q.QueryRow(ctx, `
		UPDATE party_balances SET
			current_balance = current_balance - $3,
			total_earned = total_earned - $4,
			total_withdrawn = total_withdrawn + $5,
			updated_at = $6
		WHERE party_type = $1 AND party_id = $2 AND current_balance >= $3
		RETURNING current_balance`, ref.Type, ref.ID, amount, earnedDelta, withdrawnDelta, now).Scan(&after)
	if err != nil {
		if !pg.IsNotFound(err) {
			return Movement{}, fmt.Errorf("failed to debit %s: %w", ref, err)
		}
		current, getErr := s.Get(ctx, q, ref)
		if getErr != nil {
			return Movement{}, getErr
		}
		s.log.Info("balance: debit refused", "party", ref.String(), "requested", amount, "available", current.CurrentBalance)
		return Movement{}, &InsufficientBalanceError{Party: ref, Requested: amount, Available: current.CurrentBalance}
	}

	return s.appendMovement(ctx, q, ref, -amount, reason, reference, after, now)
}

func (s *Store) appendMovement(ctx context.Context, q pg.Querier, ref party.Ref, delta money.Amount, reason Reason, reference string, after money.Amount, at time.Time) (Movement, error) {
	m := Movement{
		ID:           uuid.New(),
		Party:        ref,
		Delta:        delta,
		Reason:       reason,
		Reference:    reference,
		BalanceAfter: after,
		CreatedAt:    at,
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO balance_movements (id, party_type, party_id, delta, reason, reference, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, ref.Type, ref.ID, m.Delta, m.Reason, m.Reference, m.BalanceAfter, m.CreatedAt,
	); err != nil {
		return Movement{}, fmt.Errorf("failed to append balance movement: %w", err)
	}
	s.log.Debug("balance: moved", "party", ref.String(), "delta", delta, "reason", reason, "reference", reference, "balance_after", after)
	return m, nil
}

// Get returns the balance for ref; a party that never earned has a zero balance.
func (s *Store) Get(ctx context.Context, q pg.Querier, ref party.Ref) (Balance, error) {
	b := Balance{Party: ref}
	err := q.QueryRow(ctx, `
		SELECT current_balance, total_earned, total_withdrawn, updated_at
		FROM party_balances WHERE party_type = $1 AND party_id = $2`, ref.Type, ref.ID,
	).Scan(&b.CurrentBalance, &b.TotalEarned, &b.TotalWithdrawn, &b.UpdatedAt)
	if err != nil {
		if pg.IsNotFound(err) {
			return b, nil
		}
		return Balance{}, fmt.Errorf("failed to read balance for %s: %w", ref, err)
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

// Holds sums the requested amounts of revenue-share disbursements that are
// submitted or approved for ref, excluding one request. Holds are derived
// from request state on every call, never stored.
func (s *Store) Holds(ctx context.Context, q pg.Querier, ref party.Ref, exclude uuid.UUID) (money.Amount, error) {
	var held money.Amount
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(requested_amount), 0)
		FROM disbursements
		WHERE type = 'revenue_share' AND party_type = $1 AND party_id = $2
			AND status IN ('submitted', 'approved') AND id <> $3`, ref.Type, ref.ID, exclude,
	).Scan(&held)
	if err != nil {
		return 0, fmt.Errorf("failed to sum holds for %s: %w", ref, err)
	}
	return held, nil
}

// Available is the current balance minus holds, excluding one request.
func (s *Store) Available(ctx context.Context, q pg.Querier, ref party.Ref, exclude uuid.UUID) (money.Amount, error) {
	b, err := s.Get(ctx, q, ref)
	if err != nil {
		return 0, err
	}
	held, err := s.Holds(ctx, q, ref, exclude)
	if err != nil {
		return 0, err
	}
	return b.CurrentBalance - held, nil
}

// Movements lists movements for ref, newest first.
func (s *Store) Movements(ctx context.Context, q pg.Querier, ref party.Ref, limit, offset int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx, `
		SELECT id, party_type, party_id, delta, reason, reference, balance_after, created_at
		FROM balance_movements
		WHERE party_type = $1 AND party_id = $2
		ORDER BY seq DESC
		LIMIT $3 OFFSET $4`, ref.Type, ref.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Movement, error) {
		var m Movement
		err := row.Scan(&m.ID, &m.Party.Type, &m.Party.ID, &m.Delta, &m.Reason, &m.Reference, &m.BalanceAfter, &m.CreatedAt)
		m.CreatedAt = m.CreatedAt.UTC()
		return m, err
	})
}

// List returns every balance row, optionally restricted to one party type.
func (s *Store) List(ctx context.Context, q pg.Querier, pt party.Type) ([]Balance, error) {
	query := `SELECT party_type, party_id, current_balance, total_earned, total_withdrawn, updated_at FROM party_balances`
	var args []any
	if pt != "" {
		query += ` WHERE party_type = $1`
		args = append(args, pt)
	}
	query += ` ORDER BY party_type, party_id`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Balance, error) {
		var b Balance
		err := row.Scan(&b.Party.Type, &b.Party.ID, &b.CurrentBalance, &b.TotalEarned, &b.TotalWithdrawn, &b.UpdatedAt)
		b.UpdatedAt = b.UpdatedAt.UTC()
		return b, err
	})
}
