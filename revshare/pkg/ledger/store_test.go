package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/settings"
	"github.com/ziswaf/revshare/revshare/pkg/split"
	revsharetesting "github.com/ziswaf/revshare/utils/pkg/testing"
)

var paidAt = time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)

func snapshot() settings.Snapshot {
	return settings.Snapshot{
		Version:        1,
		AmilZakat:      money.MustPercent("12.5"),
		AmilShodaqoh:   money.MustPercent("20"),
		Developer:      money.MustPercent("2.5"),
		Fundraiser:     money.MustPercent("3"),
		MitraZakat:     money.MustPercent("5"),
		MitraShodaqoh:  money.MustPercent("10"),
		QurbanOwnerApp: money.MustPercent("20"),
	}
}

func newStore(t *testing.T) (*ledger.Store, *pgxpool.Pool) {
	t.Helper()
	store, err := ledger.NewStore(ledger.StoreConfig{
		Logger:  revsharetesting.NewLogger(),
		Clock:   clockwork.NewFakeClockAt(paidAt.Add(time.Minute)),
		Parties: ledger.Parties{AmilID: "ziswaf", DeveloperID: "platform"},
	})
	require.NoError(t, err)
	return store, revsharetesting.NewPostgresPool(t, testDB)
}

func donation(id string, amount money.Amount) split.Transaction {
	return split.Transaction{
		ID: id, ProductType: split.ProductCampaign, Pillar: split.PillarShodaqoh,
		Amount: amount, ReferralAgentID: "agent-1", PaidAt: paidAt,
	}
}

func record(t *testing.T, store *ledger.Store, q pg.Querier, tx split.Transaction) ledger.Record {
	t.Helper()
	r, err := split.Compute(tx, snapshot())
	require.NoError(t, err)
	rec, err := store.Record(t.Context(), q, tx, r)
	require.NoError(t, err)
	return rec
}

func TestRevShare_Ledger_Store_RecordAndGet(t *testing.T) {
	t.Parallel()
	store, pool := newStore(t)
	ctx := t.Context()

	rec := record(t, store, pool, donation("trx-1", 1_000_000))
	require.Equal(t, ledger.KindOriginal, rec.Kind)
	require.Len(t, rec.Shares, 3)

	got, err := store.Get(ctx, pool, "trx-1")
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, split.FormulaA, got.Formula)
	require.Equal(t, money.Amount(800_000), got.Program)
	require.Equal(t, money.Amount(145_000), got.AmilNet)
	require.Equal(t, "agent-1", got.Transaction.ReferralAgentID)
	require.Equal(t, paidAt, got.Transaction.PaidAt)
	require.Equal(t, rec.Shares, got.Shares)

	_, err = store.Get(ctx, pool, "missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRevShare_Ledger_Store_RecordIsIdempotent(t *testing.T) {
	t.Parallel()
	store, pool := newStore(t)
	ctx := t.Context()

	tx := donation("trx-dup", 500_000)
	first := record(t, store, pool, tx)

	r, err := split.Compute(tx, snapshot())
	require.NoError(t, err)
	again, err := store.Record(ctx, pool, tx, r)
	require.ErrorIs(t, err, ledger.ErrAlreadyRecorded)
	require.Equal(t, first.ID, again.ID)

	var records, shares int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM revenue_share_records`).Scan(&records))
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM revenue_share_party_shares`).Scan(&shares))
	require.Equal(t, 1, records)
	require.Equal(t, len(first.Shares), shares)
}

func TestRevShare_Ledger_Store_ConcurrentRecordWritesOnce(t *testing.T) {
	t.Parallel()
	store, pool := newStore(t)
	ctx := t.Context()

	tx := donation("trx-race", 750_000)
	r, err := split.Compute(tx, snapshot())
	require.NoError(t, err)

	errs := make([]error, 10)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = pg.WithTx(ctx, pool, func(q pgx.Tx) error {
				_, err := store.Record(ctx, q, tx, r)
				return err
			})
		}()
	}
	wg.Wait()

	inserted := 0
	for _, err := range errs {
		if err == nil {
			inserted++
			continue
		}
		require.True(t, errors.Is(err, ledger.ErrAlreadyRecorded), err)
	}
	require.Equal(t, 1, inserted)

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM revenue_share_records WHERE transaction_id = $1`, tx.ID).Scan(&n))
	require.Equal(t, 1, n)
}

func TestRevShare_Ledger_Store_Reverse(t *testing.T) {
	t.Parallel()
	store, pool := newStore(t)
	ctx := t.Context()

	orig := record(t, store, pool, donation("trx-rev", 1_000_000))

	rev, err := store.Reverse(ctx, pool, "trx-rev", "refund")
	require.NoError(t, err)
	require.Equal(t, ledger.KindReversal, rev.Kind)
	require.Equal(t, orig.ID, *rev.ReversesID)
	require.Equal(t, -orig.Program, rev.Program)
	require.Equal(t, -orig.AmilNet, rev.AmilNet)
	require.Equal(t, "refund", rev.Reason)
	require.Len(t, rev.Shares, len(orig.Shares))
	for i, sh := range rev.Shares {
		require.Equal(t, orig.Shares[i].Party, sh.Party)
		require.Equal(t, -orig.Shares[i].Amount, sh.Amount)
	}

	stored, err := store.GetReversal(ctx, pool, "trx-rev")
	require.NoError(t, err)
	require.Equal(t, rev.ID, stored.ID)

	// The original record is untouched.
	again, err := store.Get(ctx, pool, "trx-rev")
	require.NoError(t, err)
	require.Equal(t, orig.AmilNet, again.AmilNet)

	_, err = store.Reverse(ctx, pool, "trx-rev", "again")
	require.ErrorIs(t, err, ledger.ErrAlreadyReversed)

	_, err = store.Reverse(ctx, pool, "unknown", "x")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRevShare_Ledger_Store_ReverseRefusesAllocatedShares(t *testing.T) {
	t.Parallel()
	store, pool := newStore(t)
	ctx := t.Context()

	orig := record(t, store, pool, donation("trx-alloc", 1_000_000))
	allocate(t, pool, orig.ID, party.Fundraiser, 10_000)

	_, err := store.Reverse(ctx, pool, "trx-alloc", "refund")
	require.ErrorIs(t, err, ledger.ErrAllocationConflict)

	_, err = store.GetReversal(ctx, pool, "trx-alloc")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRevShare_Ledger_Store_List(t *testing.T) {
	t.Parallel()
	store, pool := newStore(t)
	ctx := t.Context()

	a := donation("a", 100_000)
	b := donation("b", 200_000)
	b.PaidAt = paidAt.Add(24 * time.Hour)
	z := split.Transaction{ID: "z", ProductType: split.ProductZakat, Amount: 300_000, PaidAt: paidAt.Add(48 * time.Hour)}
	for _, tx := range []split.Transaction{a, b, z} {
		record(t, store, pool, tx)
	}
	_, err := store.Reverse(ctx, pool, "a", "refund")
	require.NoError(t, err)

	all, err := store.List(ctx, pool, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)

	originals, err := store.List(ctx, pool, ledger.Filter{Kind: ledger.KindOriginal})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "z"}, txIDs(originals))

	zakat, err := store.List(ctx, pool, ledger.Filter{ProductType: split.ProductZakat})
	require.NoError(t, err)
	require.Equal(t, []string{"z"}, txIDs(zakat))

	window, err := store.List(ctx, pool, ledger.Filter{From: paidAt.Add(time.Hour), To: paidAt.Add(25 * time.Hour)})
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, txIDs(window))

	page, err := store.List(ctx, pool, ledger.Filter{Kind: ledger.KindOriginal, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, txIDs(page))

	shares, err := store.PartyShares(ctx, pool, party.Ref{Type: party.Fundraiser, ID: "agent-1"})
	require.NoError(t, err)
	var net money.Amount
	for _, sh := range shares {
		net += sh.Amount
	}
	require.Equal(t, money.Amount(6_000), net)
}

func txIDs(records []ledger.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Transaction.ID)
	}
	return out
}

func allocate(t *testing.T, pool *pgxpool.Pool, recordID uuid.UUID, pt party.Type, amount money.Amount) {
	t.Helper()
	ctx := context.Background()
	disbursementID := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO disbursements (id, type, category, party_type, party_id, requested_amount, status, requester_id, created_at, updated_at)
		VALUES ($1, 'revenue_share', 'revenue_share_fundraiser', $2, 'agent-1', $3, 'paid', 'agent-1', now(), now())`,
		disbursementID, pt, amount)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO disbursement_allocation_items (id, disbursement_id, record_id, party_type, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		uuid.New(), disbursementID, recordID, pt, amount)
	require.NoError(t, err)
}
