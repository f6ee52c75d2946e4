package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/split"
)

type Config struct {
	Logger *slog.Logger
	DB     pg.Querier
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	return nil
}

// Aggregator serves read-only rollups over the ledger, balances and
// disbursements. Reversals count with a negative sign, so a reversed
// transaction nets to zero.
type Aggregator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{log: cfg.Logger, cfg: cfg}, nil
}

// Period is a half-open [From, To) range. Zero bounds are open.
type Period struct {
	From time.Time `json:"from,omitzero"`
	To   time.Time `json:"to,omitzero"`
}

func (p Period) Validate() error {
	if !p.From.IsZero() && !p.To.IsZero() && !p.From.Before(p.To) {
		return fmt.Errorf("period start %s must be before end %s", p.From.Format(time.RFC3339), p.To.Format(time.RFC3339))
	}
	return nil
}

type SummaryFilter struct {
	Period
	ProductType split.ProductType
}

// SummaryRow totals one product type and formula.
type SummaryRow struct {
	ProductType  split.ProductType `json:"product_type"`
	Formula      split.Formula     `json:"formula"`
	Transactions int64             `json:"transactions"`
	Reversals    int64             `json:"reversals"`
	Amount       money.Amount      `json:"amount"`
	Program      money.Amount      `json:"program_amount"`
	AmilGross    money.Amount      `json:"amil_gross"`
	Developer    money.Amount      `json:"developer_amount"`
	Fundraiser   money.Amount      `json:"fundraiser_amount"`
	Mitra        money.Amount      `json:"mitra_amount"`
	AmilNet      money.Amount      `json:"amil_net"`
	AnimalAmount money.Amount      `json:"animal_amount"`
	AdminFee     money.Amount      `json:"admin_fee"`
	OwnerApp     money.Amount      `json:"owner_app_amount"`
	MitraAdmin   money.Amount      `json:"mitra_admin_amount"`
}

type Summary struct {
	Period      Period            `json:"period"`
	ProductType split.ProductType `json:"product_type,omitempty"`
	Rows        []SummaryRow      `json:"rows"`
	Total       SummaryRow        `json:"total"`
}

// Summary totals revenue-share records by product type and formula. Rows
// are filtered on the transaction's paid_at.
func (a *Aggregator) Summary(ctx context.Context, f SummaryFilter) (Summary, error) {
	if err := f.Period.Validate(); err != nil {
		return Summary{}, err
	}

	var where []string
	var args []any
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

	query := `
		SELECT product_type, formula,
			COUNT(*) FILTER (WHERE kind = 'original'),
			COUNT(*) FILTER (WHERE kind = 'reversal'),
			COALESCE(SUM(CASE WHEN kind = 'reversal' THEN -amount ELSE amount END), 0),
			COALESCE(SUM(program_amount), 0), COALESCE(SUM(amil_gross), 0),
			COALESCE(SUM(developer_amount), 0), COALESCE(SUM(fundraiser_amount), 0),
			COALESCE(SUM(mitra_amount), 0), COALESCE(SUM(amil_net), 0),
			COALESCE(SUM(animal_amount), 0), COALESCE(SUM(CASE WHEN kind = 'reversal' THEN -admin_fee ELSE admin_fee END) FILTER (WHERE formula = 'B'), 0),
			COALESCE(SUM(owner_app_amount), 0), COALESCE(SUM(mitra_admin_amount), 0)
		FROM revenue_share_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` GROUP BY product_type, formula ORDER BY product_type, formula`

	rows, err := a.cfg.DB.Query(ctx, query, args...)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize revenue shares: %w", err)
	}
	summaryRows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SummaryRow, error) {
		var r SummaryRow
		err := row.Scan(&r.ProductType, &r.Formula, &r.Transactions, &r.Reversals, &r.Amount,
			&r.Program, &r.AmilGross, &r.Developer, &r.Fundraiser, &r.Mitra, &r.AmilNet,
			&r.AnimalAmount, &r.AdminFee, &r.OwnerApp, &r.MitraAdmin)
		return r, err
	})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to scan revenue share summary: %w", err)
	}

	s := Summary{Period: f.Period, ProductType: f.ProductType, Rows: summaryRows}
	for _, r := range summaryRows {
		s.Total.Transactions += r.Transactions
		s.Total.Reversals += r.Reversals
		s.Total.Amount += r.Amount
		s.Total.Program += r.Program
		s.Total.AmilGross += r.AmilGross
		s.Total.Developer += r.Developer
		s.Total.Fundraiser += r.Fundraiser
		s.Total.Mitra += r.Mitra
		s.Total.AmilNet += r.AmilNet
		s.Total.AnimalAmount += r.AnimalAmount
		s.Total.AdminFee += r.AdminFee
		s.Total.OwnerApp += r.OwnerApp
		s.Total.MitraAdmin += r.MitraAdmin
	}
	return s, nil
}

// Statement is a party's balance activity over a period.
type Statement struct {
	Party          party.Ref    `json:"party"`
	Period         Period       `json:"period"`
	Opening        money.Amount `json:"opening_balance"`
	Earned         money.Amount `json:"earned"`
	Reversed       money.Amount `json:"reversed"`
	Withdrawn      money.Amount `json:"withdrawn"`
	Closing        money.Amount `json:"closing_balance"`
	Movements      int64        `json:"movements"`
	CurrentBalance money.Amount `json:"current_balance"`
	Held           money.Amount `json:"held"`
}

// PartyStatement rebuilds a party's statement from its balance movements.
// Held is the sum of its submitted and approved revenue-share requests now.
func (a *Aggregator) PartyStatement(ctx context.Context, ref party.Ref, p Period) (Statement, error) {
	if err := ref.Validate(); err != nil {
		return Statement{}, err
	}
	if err := p.Validate(); err != nil {
		return Statement{}, err
	}

	st := Statement{Party: ref, Period: p}

	if !p.From.IsZero() {
		err := a.cfg.DB.QueryRow(ctx, `
			SELECT balance_after FROM balance_movements
			WHERE party_type = $1 AND party_id = $2 AND created_at < $3
			ORDER BY seq DESC LIMIT 1`, ref.Type, ref.ID, p.From).Scan(&st.Opening)
		if err != nil && !pg.IsNotFound(err) {
			return Statement{}, fmt.Errorf("failed to read opening balance: %w", err)
		}
	}

	query := `
		SELECT
			COALESCE(SUM(delta) FILTER (WHERE reason = 'revenue_share'), 0),
			COALESCE(-SUM(delta) FILTER (WHERE reason = 'reversal'), 0),
			COALESCE(-SUM(delta) FILTER (WHERE reason = 'disbursement'), 0),
			COUNT(*)
		FROM balance_movements
		WHERE party_type = $1 AND party_id = $2`
	args := []any{ref.Type, ref.ID}
	if !p.From.IsZero() {
		args = append(args, p.From)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if !p.To.IsZero() {
		args = append(args, p.To)
		query += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}
	if err := a.cfg.DB.QueryRow(ctx, query, args...).Scan(&st.Earned, &st.Reversed, &st.Withdrawn, &st.Movements); err != nil {
		return Statement{}, fmt.Errorf("failed to sum balance movements: %w", err)
	}
	st.Closing = st.Opening + st.Earned - st.Reversed - st.Withdrawn

	err := a.cfg.DB.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT current_balance FROM party_balances WHERE party_type = $1 AND party_id = $2), 0),
			COALESCE((SELECT SUM(requested_amount) FROM disbursements
				WHERE type = 'revenue_share' AND party_type = $1 AND party_id = $2
					AND status IN ('submitted', 'approved')), 0)`, ref.Type, ref.ID,
	).Scan(&st.CurrentBalance, &st.Held)
	if err != nil {
		return Statement{}, fmt.Errorf("failed to read party balance: %w", err)
	}
	return st, nil
}

type DisbursementFilter struct {
	Period
	Type string
}

// DisbursementRow totals requests of one type, category and status.
type DisbursementRow struct {
	Type      string       `json:"type"`
	Category  string       `json:"category"`
	Status    string       `json:"status"`
	Count     int64        `json:"count"`
	Requested money.Amount `json:"requested_amount"`
	Paid      money.Amount `json:"paid_amount"`
}

// Disbursements rolls requests up by type, category and status. Rows are
// filtered on created_at.
func (a *Aggregator) Disbursements(ctx context.Context, f DisbursementFilter) ([]DisbursementRow, error) {
	if err := f.Period.Validate(); err != nil {
		return nil, err
	}

	query := `
		SELECT type, category, status, COUNT(*), COALESCE(SUM(requested_amount), 0), COALESCE(SUM(paid_amount), 0)
		FROM disbursements WHERE TRUE`
	var args []any
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	query += ` GROUP BY type, category, status ORDER BY type, category, status`

	rows, err := a.cfg.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to roll up disbursements: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DisbursementRow, error) {
		var r DisbursementRow
		err := row.Scan(&r.Type, &r.Category, &r.Status, &r.Count, &r.Requested, &r.Paid)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan disbursement rollup: %w", err)
	}
	return out, nil
}
