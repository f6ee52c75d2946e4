package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ziswaf/revshare/revshare/pkg/outbox"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
)

var (
	ErrFlagNotFound = errors.New("reconciliation flag not found")
	ErrFlagResolved = errors.New("reconciliation flag already resolved")
)

type FlagKind string

const FlagAllocationConflict FlagKind = "allocation_conflict"

type FlagStatus string

const (
	FlagOpen     FlagStatus = "open"
	FlagResolved FlagStatus = "resolved"
)

// Flag is a condition the engine refused to resolve on its own.
type Flag struct {
	ID             uuid.UUID  `json:"id"`
	TransactionID  string     `json:"transaction_id"`
	Kind           FlagKind   `json:"kind"`
	Detail         string     `json:"detail"`
	Status         FlagStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
}

const flagColumns = `id, transaction_id, kind, detail, status, created_at, resolved_by, resolved_at, resolution_note`

// raiseFlag opens a flag in its own transaction. An open flag of the same
// kind for the same transaction is returned as is.
func (e *Engine) raiseFlag(ctx context.Context, transactionID string, kind FlagKind, detail string) (Flag, error) {
	var f Flag
	err := pg.WithTx(ctx, e.cfg.DB, func(q pgx.Tx) error {
		existing, err := scanFlag(q.QueryRow(ctx, `
			SELECT `+flagColumns+` FROM reconciliation_flags
			WHERE transaction_id = $1 AND kind = $2 AND status = 'open'
			ORDER BY created_at LIMIT 1`, transactionID, kind))
		if err == nil {
			f = existing
			return nil
		}
		if !pg.IsNotFound(err) {
			return fmt.Errorf("failed to read reconciliation flags: %w", err)
		}

		f = Flag{
			ID:            uuid.New(),
			TransactionID: transactionID,
			Kind:          kind,
			Detail:        detail,
			Status:        FlagOpen,
			CreatedAt:     e.cfg.Clock.Now().UTC(),
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO reconciliation_flags (id, transaction_id, kind, detail, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			f.ID, f.TransactionID, f.Kind, f.Detail, f.Status, f.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert reconciliation flag: %w", err)
		}
		return outbox.Publish(ctx, q, outbox.EventReconciliationFlagged, transactionID, outbox.ReconciliationFlagged{
			FlagID:        f.ID.String(),
			TransactionID: transactionID,
			Kind:          string(kind),
			Detail:        detail,
		}, f.CreatedAt)
	})
	return f, err
}

// ListFlags returns flags in status, or all flags when status is empty.
func (e *Engine) ListFlags(ctx context.Context, status FlagStatus) ([]Flag, error) {
	query := `SELECT ` + flagColumns + ` FROM reconciliation_flags`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := e.cfg.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation flags: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Flag, error) { return scanFlag(row) })
}

// ResolveFlag closes an open flag with the operator's note.
func (e *Engine) ResolveFlag(ctx context.Context, id uuid.UUID, actor, note string) (Flag, error) {
	if strings.TrimSpace(actor) == "" {
		return Flag{}, errors.New("actor identity is required")
	}
	now := e.cfg.Clock.Now().UTC()
	f, err := scanFlag(e.cfg.DB.QueryRow(ctx, `
		UPDATE reconciliation_flags
		SET status = 'resolved', resolved_by = $2, resolved_at = $3, resolution_note = $4
		WHERE id = $1 AND status = 'open'
		RETURNING `+flagColumns, id, actor, now, strings.TrimSpace(note)))
	if err == nil {
		e.log.Info("engine: flag resolved", "flag_id", id, "transaction_id", f.TransactionID, "actor", actor)
		return f, nil
	}
	if !pg.IsNotFound(err) {
		return Flag{}, fmt.Errorf("failed to resolve reconciliation flag: %w", err)
	}

	var status FlagStatus
	if err := e.cfg.DB.QueryRow(ctx, `SELECT status FROM reconciliation_flags WHERE id = $1`, id).Scan(&status); err != nil {
		if pg.IsNotFound(err) {
			return Flag{}, ErrFlagNotFound
		}
		return Flag{}, fmt.Errorf("failed to read reconciliation flag: %w", err)
	}
	return Flag{}, ErrFlagResolved
}

func scanFlag(row pgx.Row) (Flag, error) {
	var f Flag
	err := row.Scan(&f.ID, &f.TransactionID, &f.Kind, &f.Detail, &f.Status, &f.CreatedAt, &f.ResolvedBy, &f.ResolvedAt, &f.ResolutionNote)
	if err != nil {
		return Flag{}, err
	}
	f.CreatedAt = f.CreatedAt.UTC()
	if f.ResolvedAt != nil {
		t := f.ResolvedAt.UTC()
		f.ResolvedAt = &t
	}
	return f, nil
}
