package pg_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/ziswaf/revshare/revshare/pkg/pg"
	revsharetesting "github.com/ziswaf/revshare/utils/pkg/testing"
)

func TestRevShare_PG_WithTx_CommitsAndRollsBack(t *testing.T) {
	t.Parallel()
	pool := revsharetesting.NewPostgresPool(t, testDB)
	ctx := t.Context()

	err := pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO settings_snapshots (settings) VALUES ('{}')`)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO settings_snapshots (settings) VALUES ('{}')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM settings_snapshots`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestRevShare_PG_WithTx_RetriesSerializationFailure(t *testing.T) {
	t.Parallel()
	pool := revsharetesting.NewPostgresPool(t, testDB)
	ctx := t.Context()

	var calls atomic.Int32
	err := pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
		if calls.Add(1) == 1 {
			return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
		}
		_, err := tx.Exec(ctx, `INSERT INTO settings_snapshots (settings) VALUES ('{}')`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM settings_snapshots`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestRevShare_PG_WithTx_DoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()
	pool := revsharetesting.NewPostgresPool(t, testDB)

	var calls atomic.Int32
	err := pg.WithTx(t.Context(), pool, func(tx pgx.Tx) error {
		calls.Add(1)
		return &pgconn.PgError{Code: "23505", ConstraintName: "x"}
	})
	require.True(t, pg.IsUniqueViolation(err, "x"))
	require.Equal(t, int32(1), calls.Load())
}

func TestRevShare_PG_Migrations_Down(t *testing.T) {
	t.Parallel()
	pool := revsharetesting.NewPostgresPool(t, testDB)
	connStr := pool.Config().ConnString()

	require.NoError(t, pg.MigrateDown(context.Background(), revsharetesting.NewLogger(), connStr))
	var exists bool
	require.NoError(t, pool.QueryRow(t.Context(),
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'outbox_events')`).Scan(&exists))
	require.False(t, exists)

	require.NoError(t, pg.MigrateUp(context.Background(), revsharetesting.NewLogger(), connStr))
	require.NoError(t, pg.MigrateStatus(context.Background(), revsharetesting.NewLogger(), connStr))
}
