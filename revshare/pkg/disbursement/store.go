package disbursement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ziswaf/revshare/revshare/pkg/pg"
)

const columns = `id, type, category, party_type, party_id, recipient, requested_amount, status, requester_id, note,
	submitted_at, approver_id, approved_at, rejected_by, rejected_at, rejection_reason,
	proof_reference, transfer_date, paid_amount, paid_by, paid_at, previous_id, created_at, updated_at`

func insert(ctx context.Context, q pg.Querier, d Disbursement) error {
	_, err := q.Exec(ctx, `
		INSERT INTO disbursements (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		d.ID, d.Type, d.Category, d.Party.Type, d.Party.ID, d.Recipient, d.RequestedAmount, d.Status, d.RequesterID, d.Note,
		d.SubmittedAt, d.ApproverID, d.ApprovedAt, d.RejectedBy, d.RejectedAt, d.RejectionReason,
		d.ProofReference, d.TransferDate, d.PaidAmount, d.PaidBy, d.PaidAt, d.PreviousID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert disbursement: %w", err)
	}
	return nil
}

// update writes the mutable columns, only if the row is still in status from.
func update(ctx context.Context, q pg.Querier, d Disbursement, from Status) error {
	tag, err := q.Exec(ctx, `
		UPDATE disbursements SET
			status = $2, submitted_at = $3, approver_id = $4, approved_at = $5,
			rejected_by = $6, rejected_at = $7, rejection_reason = $8,
			proof_reference = $9, transfer_date = $10, paid_amount = $11, paid_by = $12, paid_at = $13,
			updated_at = $14
		WHERE id = $1 AND status = $15`,
		d.ID, d.Status, d.SubmittedAt, d.ApproverID, d.ApprovedAt,
		d.RejectedBy, d.RejectedAt, d.RejectionReason,
		d.ProofReference, d.TransferDate, d.PaidAmount, d.PaidBy, d.PaidAt,
		d.UpdatedAt, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update disbursement: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("disbursement %s left status %s concurrently", d.ID, from)
	}
	return nil
}

func get(ctx context.Context, q pg.Querier, id uuid.UUID, forUpdate bool) (Disbursement, error) {
	query := `SELECT ` + columns + ` FROM disbursements WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	d, err := scan(q.QueryRow(ctx, query, id))
	if err != nil {
		if pg.IsNotFound(err) {
			return Disbursement{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Disbursement{}, fmt.Errorf("failed to read disbursement: %w", err)
	}
	return d, nil
}

func list(ctx context.Context, q pg.Querier, f Filter) ([]Disbursement, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Party.Type != "" {
		add("party_type = $%d", f.Party.Type)
	}
	if f.Party.ID != "" {
		add("party_id = $%d", f.Party.ID)
	}

	query := `SELECT ` + columns + ` FROM disbursements`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, max(f.Offset, 0))
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list disbursements: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Disbursement, error) { return scan(row) })
}

func scan(row pgx.Row) (Disbursement, error) {
	var d Disbursement
	err := row.Scan(
		&d.ID, &d.Type, &d.Category, &d.Party.Type, &d.Party.ID, &d.Recipient, &d.RequestedAmount, &d.Status, &d.RequesterID, &d.Note,
		&d.SubmittedAt, &d.ApproverID, &d.ApprovedAt, &d.RejectedBy, &d.RejectedAt, &d.RejectionReason,
		&d.ProofReference, &d.TransferDate, &d.PaidAmount, &d.PaidBy, &d.PaidAt, &d.PreviousID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return Disbursement{}, err
	}
	for _, t := range []*time.Time{d.SubmittedAt, d.ApprovedAt, d.RejectedAt, d.TransferDate, d.PaidAt, &d.CreatedAt, &d.UpdatedAt} {
		if t != nil {
			*t = t.UTC()
		}
	}
	return d, nil
}

func hasSuccessor(ctx context.Context, q pg.Querier, id uuid.UUID) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM disbursements WHERE previous_id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check resubmission: %w", err)
	}
	return exists, nil
}

func insertEvent(ctx context.Context, q pg.Querier, ev Event) error {
	if _, err := q.Exec(ctx, `
		INSERT INTO disbursement_events (id, disbursement_id, action, from_status, to_status, actor_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.DisbursementID, ev.Action, ev.From, ev.To, ev.ActorID, ev.Note, ev.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert disbursement event: %w", err)
	}
	return nil
}

func events(ctx context.Context, q pg.Querier, id uuid.UUID) ([]Event, error) {
	rows, err := q.Query(ctx, `
		SELECT id, disbursement_id, action, from_status, to_status, actor_id, note, created_at
		FROM disbursement_events WHERE disbursement_id = $1
		ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list disbursement events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var ev Event
		err := row.Scan(&ev.ID, &ev.DisbursementID, &ev.Action, &ev.From, &ev.To, &ev.ActorID, &ev.Note, &ev.CreatedAt)
		ev.CreatedAt = ev.CreatedAt.UTC()
		return ev, err
	})
}
