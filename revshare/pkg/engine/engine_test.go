package engine_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ziswaf/revshare/revshare/pkg/engine"
	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/outbox"
	"github.com/ziswaf/revshare/revshare/pkg/party"
	"github.com/ziswaf/revshare/revshare/pkg/settings"
	"github.com/ziswaf/revshare/revshare/pkg/split"
	revsharetesting "github.com/ziswaf/revshare/utils/pkg/testing"
)

var (
	paidAt    = time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	amil      = party.Ref{Type: party.Amil, ID: "ziswaf"}
	developer = party.Ref{Type: party.Developer, ID: "platform"}
	agent     = party.Ref{Type: party.Fundraiser, ID: "agent-1"}
	mitra     = party.Ref{Type: party.Mitra, ID: "mitra-1"}
)

func snapshot(version int64) settings.Snapshot {
	return settings.Snapshot{
		Version:         version,
		AmilZakat:       money.MustPercent("12.5"),
		AmilShodaqoh:    money.MustPercent("20"),
		Developer:       money.MustPercent("2.5"),
		Fundraiser:      money.MustPercent("3"),
		MitraZakat:      money.MustPercent("5"),
		MitraShodaqoh:   money.MustPercent("10"),
		QurbanOwnerApp:  money.MustPercent("20"),
		QurbanAdminFees: map[string]money.Amount{"goat": 150_000},
	}
}

// switchable lets a test fix the active snapshot mid-run.
type switchable struct {
	mu   sync.Mutex
	snap settings.Snapshot
	err  error
}

func (s *switchable) GetActiveConfigSnapshot(context.Context) (settings.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.err
}

func (s *switchable) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *switchable) set(snap settings.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

type fixture struct {
	pool     *pgxpool.Pool
	settings *switchable
	engine   *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool := revsharetesting.NewPostgresPool(t, testDB)
	provider := &switchable{snap: snapshot(1)}
	e, err := engine.New(engine.Config{
		Logger:           revsharetesting.NewLogger(),
		Clock:            clockwork.NewFakeClockAt(paidAt.Add(time.Minute)),
		DB:               pool,
		Settings:         provider,
		AmilPartyID:      amil.ID,
		DeveloperPartyID: developer.ID,
	})
	require.NoError(t, err)
	return &fixture{pool: pool, settings: provider, engine: e}
}

func (f *fixture) balance(t *testing.T, ref party.Ref) money.Amount {
	t.Helper()
	b, err := f.engine.Balances().Get(t.Context(), f.pool, ref)
	require.NoError(t, err)
	return b.CurrentBalance
}

func donation(id string, amount money.Amount) split.Transaction {
	return split.Transaction{
		ID: id, ProductType: split.ProductCampaign, Pillar: split.PillarShodaqoh,
		Amount: amount, ReferralAgentID: agent.ID, PartnerID: mitra.ID, PaidAt: paidAt,
	}
}

func TestRevShare_Engine_Config_Validate(t *testing.T) {
	t.Parallel()

	_, err := engine.New(engine.Config{})
	require.Error(t, err)

	_, err = engine.New(engine.Config{Logger: revsharetesting.NewLogger(), DB: &pgxpool.Pool{}, Settings: settings.Static(snapshot(1))})
	require.ErrorContains(t, err, "amil party id")
}

func TestRevShare_Engine_HandleTransactionPaid_CreditsEveryParty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	out, err := f.engine.HandleTransactionPaid(ctx, donation("trx-1", 1_000_000))
	require.NoError(t, err)
	require.Equal(t, engine.StatusRecorded, out.Status)
	require.Equal(t, split.FormulaA, out.Record.Result.Formula)
	require.Equal(t, int64(1), out.Record.Result.SnapshotVersion)

	require.Equal(t, money.Amount(45_000), f.balance(t, amil))
	require.Equal(t, money.Amount(25_000), f.balance(t, developer))
	require.Equal(t, money.Amount(30_000), f.balance(t, agent))
	require.Equal(t, money.Amount(100_000), f.balance(t, mitra))

	events, err := outbox.List(ctx, f.pool, outbox.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, outbox.EventRevenueShareRecorded, events[0].Type)
	var rec ledger.Record
	require.NoError(t, events[0].Decode(&rec))
	require.Equal(t, out.Record.ID, rec.ID)
}

func TestRevShare_Engine_HandleTransactionPaid_RedeliveryIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	tx := donation("trx-dup", 1_000_000)
	var wg sync.WaitGroup
	var mu sync.Mutex
	statuses := map[engine.Status]int{}
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.engine.HandleTransactionPaid(ctx, tx)
			if err != nil {
				t.Errorf("handle: %v", err)
				return
			}
			mu.Lock()
			statuses[out.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, map[engine.Status]int{engine.StatusRecorded: 1, engine.StatusDuplicate: 7}, statuses)
	require.Equal(t, money.Amount(100_000), f.balance(t, mitra))

	movements, err := f.engine.Balances().Movements(ctx, f.pool, mitra, 10, 0)
	require.NoError(t, err)
	require.Len(t, movements, 1)
}

func TestRevShare_Engine_HandleTransactionPaid_RedeliveryWithoutSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	tx := donation("trx-redeliver", 1_000_000)
	first, err := f.engine.HandleTransactionPaid(ctx, tx)
	require.NoError(t, err)

	f.settings.fail(settings.ErrNoSnapshot)
	again, err := f.engine.HandleTransactionPaid(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, engine.StatusDuplicate, again.Status)
	require.Equal(t, first.Record.ID, again.Record.ID)

	_, err = f.engine.HandleTransactionPaid(ctx, donation("trx-new", 1_000_000))
	require.ErrorIs(t, err, settings.ErrNoSnapshot)
}

func TestRevShare_Engine_HandleTransactionPaid_NormalizesProductAndPillar(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	tx := donation("trx-upper-wakaf", 10_000_000)
	tx.ProductType = "WAKAF"
	tx.Pillar = " Shodaqoh "
	out, err := f.engine.HandleTransactionPaid(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, split.FormulaExempt, out.Record.Result.Formula)
	require.Empty(t, out.Record.Shares)

	stored, err := f.engine.Ledger().Get(ctx, f.pool, "trx-upper-wakaf")
	require.NoError(t, err)
	require.Equal(t, split.ProductWakaf, stored.Transaction.ProductType)
	require.Equal(t, split.PillarShodaqoh, stored.Transaction.Pillar)
}

func TestRevShare_Engine_HandleTransactionPaid_ExemptRecordsWithoutCredits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	tx := donation("trx-wakaf", 10_000_000)
	tx.Pillar = split.PillarWakaf
	out, err := f.engine.HandleTransactionPaid(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, split.FormulaExempt, out.Record.Result.Formula)
	require.Equal(t, money.Amount(10_000_000), out.Record.Result.Program)
	require.Empty(t, out.Record.Shares)

	balances, err := f.engine.Balances().List(ctx, f.pool, "")
	require.NoError(t, err)
	require.Empty(t, balances)
}

func TestRevShare_Engine_HandleTransactionPaid_QurbanDerivesAdminFee(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tx := split.Transaction{
		ID: "trx-qurban", ProductType: split.ProductQurban, Pillar: split.PillarQurban,
		Amount: 2_650_000, AnimalType: "goat", PartnerID: mitra.ID, PaidAt: paidAt,
	}
	out, err := f.engine.HandleTransactionPaid(t.Context(), tx)
	require.NoError(t, err)
	require.Equal(t, split.FormulaB, out.Record.Result.Formula)
	require.Equal(t, money.Amount(2_500_000), out.Record.Result.AnimalAmount)
	require.Equal(t, money.Amount(30_000), f.balance(t, developer))
	require.Equal(t, money.Amount(120_000), f.balance(t, mitra))
}

func TestRevShare_Engine_HandleTransactionPaid_InvalidTransaction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tx := donation("trx-bad", 0)
	_, err := f.engine.HandleTransactionPaid(t.Context(), tx)
	require.ErrorIs(t, err, split.ErrInvalidTransaction)
}

func TestRevShare_Engine_Deferred_RetryAfterSettingsFix(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	broken := snapshot(2)
	broken.MitraShodaqoh = money.MustPercent("18")
	f.settings.set(broken)

	out, err := f.engine.HandleTransactionPaid(ctx, donation("trx-1", 1_000_000))
	require.NoError(t, err)
	require.Equal(t, engine.StatusDeferred, out.Status)
	require.Equal(t, split.RulePartySumCap, out.Violation.Rule)

	_, err = f.engine.HandleTransactionPaid(ctx, donation("trx-1", 1_000_000))
	require.NoError(t, err)

	deferred, err := f.engine.ListDeferred(ctx)
	require.NoError(t, err)
	require.Len(t, deferred, 1)
	require.Equal(t, "trx-1", deferred[0].Transaction.ID)
	require.Equal(t, 2, deferred[0].Attempts)
	require.Equal(t, int64(2), deferred[0].SnapshotVersion)

	_, err = f.engine.Ledger().Get(ctx, f.pool, "trx-1")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	events, err := outbox.List(ctx, f.pool, outbox.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	var payload outbox.TransactionDeferred
	require.NoError(t, events[1].Decode(&payload))
	require.Equal(t, 2, payload.Attempts)

	res, err := f.engine.RetryDeferred(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.RetryResult{Attempted: 1, Deferred: 1}, res)

	f.settings.set(snapshot(3))
	res, err = f.engine.RetryDeferred(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.RetryResult{Attempted: 1, Recorded: 1}, res)

	deferred, err = f.engine.ListDeferred(ctx)
	require.NoError(t, err)
	require.Empty(t, deferred)

	rec, err := f.engine.Ledger().Get(ctx, f.pool, "trx-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), rec.Result.SnapshotVersion)
	require.Equal(t, money.Amount(100_000), f.balance(t, mitra))
}

func TestRevShare_Engine_Reverse_DebitsEveryParty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.engine.HandleTransactionPaid(ctx, donation("trx-1", 1_000_000))
	require.NoError(t, err)
	_, err = f.engine.HandleTransactionPaid(ctx, donation("trx-2", 500_000))
	require.NoError(t, err)

	_, err = f.engine.Reverse(ctx, "trx-1", " ")
	require.ErrorIs(t, err, engine.ErrReasonRequired)

	rev, err := f.engine.Reverse(ctx, "trx-1", "chargeback")
	require.NoError(t, err)
	require.Equal(t, ledger.KindReversal, rev.Kind)

	require.Equal(t, money.Amount(50_000), f.balance(t, mitra))
	require.Equal(t, money.Amount(22_500), f.balance(t, amil))

	b, err := f.engine.Balances().Get(ctx, f.pool, mitra)
	require.NoError(t, err)
	require.Equal(t, money.Amount(50_000), b.TotalEarned)

	_, err = f.engine.Reverse(ctx, "trx-1", "again")
	require.ErrorIs(t, err, ledger.ErrAlreadyReversed)
	_, err = f.engine.Reverse(ctx, "trx-missing", "chargeback")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	report, err := f.engine.Reconcile(ctx)
	require.NoError(t, err)
	require.True(t, report.Clean(), "%+v", report)
	require.Equal(t, 3, report.RecordsChecked)
}

func TestRevShare_Engine_Reverse_AllocatedShareIsFlagged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	out, err := f.engine.HandleTransactionPaid(ctx, donation("trx-1", 1_000_000))
	require.NoError(t, err)

	d := uuid.New()
	_, err = f.pool.Exec(ctx, `
		INSERT INTO disbursements (id, type, category, party_type, party_id, requested_amount, status, requester_id, created_at, updated_at)
		VALUES ($1, 'revenue_share', 'revenue_share_mitra', 'mitra', $2, 10000, 'approved', 'mitra-admin', now(), now())`, d, mitra.ID)
	require.NoError(t, err)
	_, err = f.engine.Allocations().Allocate(ctx, f.pool, d, ledger.ShareRef{RecordID: out.Record.ID, PartyType: party.Mitra}, 10_000)
	require.NoError(t, err)

	_, err = f.engine.Reverse(ctx, "trx-1", "chargeback")
	require.ErrorIs(t, err, ledger.ErrAllocationConflict)
	_, err = f.engine.Reverse(ctx, "trx-1", "chargeback")
	require.ErrorIs(t, err, ledger.ErrAllocationConflict)

	require.Equal(t, money.Amount(100_000), f.balance(t, mitra))

	flags, err := f.engine.ListFlags(ctx, engine.FlagOpen)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	require.Equal(t, engine.FlagAllocationConflict, flags[0].Kind)
	require.Equal(t, "trx-1", flags[0].TransactionID)

	events, err := outbox.List(ctx, f.pool, outbox.StatusPending, 10)
	require.NoError(t, err)
	var flagged int
	for _, ev := range events {
		if ev.Type == outbox.EventReconciliationFlagged {
			flagged++
		}
	}
	require.Equal(t, 1, flagged)

	resolved, err := f.engine.ResolveFlag(ctx, flags[0].ID, "finance-lead", "refund absorbed by amil")
	require.NoError(t, err)
	require.Equal(t, engine.FlagResolved, resolved.Status)
	require.Equal(t, "finance-lead", resolved.ResolvedBy)

	_, err = f.engine.ResolveFlag(ctx, flags[0].ID, "finance-lead", "")
	require.ErrorIs(t, err, engine.ErrFlagResolved)
	_, err = f.engine.ResolveFlag(ctx, uuid.New(), "finance-lead", "")
	require.ErrorIs(t, err, engine.ErrFlagNotFound)

	open, err := f.engine.ListFlags(ctx, engine.FlagOpen)
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestRevShare_Engine_Reconcile_ReportsDrift(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.engine.HandleTransactionPaid(ctx, donation("trx-1", 1_000_000))
	require.NoError(t, err)

	report, err := f.engine.Reconcile(ctx)
	require.NoError(t, err)
	require.True(t, report.Clean())
	require.Equal(t, 4, report.PartiesChecked)

	_, err = f.pool.Exec(ctx, `UPDATE party_balances SET current_balance = current_balance + 1 WHERE party_type = 'mitra'`)
	require.NoError(t, err)
	_, err = f.pool.Exec(ctx, `UPDATE revenue_share_records SET amil_net = amil_net - 1`)
	require.NoError(t, err)

	report, err = f.engine.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	require.Equal(t, mitra, report.Drifts[0].Party)
	require.Equal(t, money.Amount(100_001), report.Drifts[0].CurrentBalance)
	require.Equal(t, money.Amount(100_000), report.Drifts[0].ExpectedBalance)
	require.Len(t, report.Records, 1)
	require.Equal(t, "trx-1", report.Records[0].TransactionID)
}

func TestRevShare_Engine_Reconcile_SurvivesPartyIDChange(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.engine.HandleTransactionPaid(ctx, donation("trx-1", 1_000_000))
	require.NoError(t, err)
	qurban := split.Transaction{
		ID: "trx-q", ProductType: split.ProductQurban, Amount: 2_650_000, AnimalType: "goat", PaidAt: paidAt,
	}
	_, err = f.engine.HandleTransactionPaid(ctx, qurban)
	require.NoError(t, err)

	moved, err := engine.New(engine.Config{
		Logger:           revsharetesting.NewLogger(),
		Clock:            clockwork.NewFakeClockAt(paidAt.Add(time.Hour)),
		DB:               f.pool,
		Settings:         f.settings,
		AmilPartyID:      "ziswaf-new",
		DeveloperPartyID: "platform-new",
	})
	require.NoError(t, err)

	report, err := moved.Reconcile(ctx)
	require.NoError(t, err)
	require.True(t, report.Clean(), "%+v", report)
	require.Equal(t, 2, report.RecordsChecked)
}

func TestRevShare_Engine_Property_BalancesMatchLedger(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()
	rng := rand.New(rand.NewPCG(7, 11))

	var recorded []string
	for i := range 40 {
		id := fmt.Sprintf("trx-%d", i)
		tx := donation(id, money.Amount(10_000+rng.IntN(5_000_000)))
		if rng.IntN(3) == 0 {
			tx.ReferralAgentID = ""
		}
		if rng.IntN(4) == 0 {
			tx.ProductType, tx.Pillar = split.ProductZakat, split.PillarZakat
		}
		_, err := f.engine.HandleTransactionPaid(ctx, tx)
		require.NoError(t, err)
		recorded = append(recorded, id)

		if rng.IntN(5) == 0 {
			victim := recorded[rng.IntN(len(recorded))]
			if _, err := f.engine.Reverse(ctx, victim, "refund"); err != nil {
				require.ErrorIs(t, err, ledger.ErrAlreadyReversed)
			}
		}
	}

	report, err := f.engine.Reconcile(ctx)
	require.NoError(t, err)
	require.True(t, report.Clean(), "%+v", report)

	balances, err := f.engine.Balances().List(ctx, f.pool, "")
	require.NoError(t, err)
	for _, b := range balances {
		require.GreaterOrEqual(t, b.CurrentBalance, money.Amount(0), b.Party.String())
	}
}
