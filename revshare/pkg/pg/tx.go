package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ziswaf/revshare/utils/pkg/retry"
)

// TxConfig bounds WithTx retries.
type TxConfig struct {
	IsoLevel    pgx.TxIsoLevel
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultTxConfig retries serialization failures and deadlocks a few times.
func DefaultTxConfig() TxConfig {
	return TxConfig{
		IsoLevel:    pgx.ReadCommitted,
		MaxAttempts: 5,
		BaseBackoff: 10 * time.Millisecond,
		MaxBackoff:  200 * time.Millisecond,
	}
}

// WithTx runs fn inside a transaction and commits it. The whole unit of work is
// re-run only when Postgres aborted it with a serialization failure or deadlock,
// in which case nothing from the failed attempt was persisted.
func WithTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	return WithTxConfig(ctx, db, DefaultTxConfig(), fn)
}

func WithTxConfig(ctx context.Context, db TxBeginner, cfg TxConfig, fn func(tx pgx.Tx) error) error {
	return retry.Do(ctx, retry.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		Retryable:   IsConflict,
	}, func() error {
		return runTx(ctx, db, cfg.IsoLevel, fn)
	})
}

func runTx(ctx context.Context, db TxBeginner, iso pgx.TxIsoLevel, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
