package report_test

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ziswaf/revshare/revshare/pkg/disbursement"
	"github.com/ziswaf/revshare/revshare/pkg/engine"
	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
	"github.com/ziswaf/revshare/revshare/pkg/report"
	"github.com/ziswaf/revshare/revshare/pkg/settings"
	"github.com/ziswaf/revshare/revshare/pkg/split"
	revsharetesting "github.com/ziswaf/revshare/utils/pkg/testing"
)

var (
	march = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	april = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mitra = party.Ref{Type: party.Mitra, ID: "mitra-1"}
)

type fixture struct {
	pool   *pgxpool.Pool
	clock  *clockwork.FakeClock
	engine *engine.Engine
	wf     *disbursement.Workflow
	agg    *report.Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := revsharetesting.NewLogger()
	pool := revsharetesting.NewPostgresPool(t, testDB)
	clock := clockwork.NewFakeClockAt(march.Add(24 * time.Hour))

	e, err := engine.New(engine.Config{
		Logger: log,
		Clock:  clock,
		DB:     pool,
		Settings: settings.Static(settings.Snapshot{
			Version:        4,
			AmilZakat:      money.MustPercent("12.5"),
			AmilShodaqoh:   money.MustPercent("20"),
			Developer:      money.MustPercent("2.5"),
			Fundraiser:     money.MustPercent("3"),
			MitraZakat:     money.MustPercent("5"),
			MitraShodaqoh:  money.MustPercent("10"),
			QurbanOwnerApp: money.MustPercent("20"),
		}),
		AmilPartyID:      "ziswaf",
		DeveloperPartyID: "platform",
	})
	require.NoError(t, err)
	wf, err := disbursement.NewWorkflow(disbursement.WorkflowConfig{
		Logger: log, Clock: clock, DB: pool, Balances: e.Balances(), Allocations: e.Allocations(),
	})
	require.NoError(t, err)
	agg, err := report.New(report.Config{Logger: log, DB: pool})
	require.NoError(t, err)
	return &fixture{pool: pool, clock: clock, engine: e, wf: wf, agg: agg}
}

func (f *fixture) paid(t *testing.T, id string, pt split.ProductType, amount, fee money.Amount, at time.Time) {
	t.Helper()
	tx := split.Transaction{ID: id, ProductType: pt, Amount: amount, AdminFee: fee, PartnerID: mitra.ID, PaidAt: at}
	_, err := f.engine.HandleTransactionPaid(t.Context(), tx)
	require.NoError(t, err)
}

func TestRevShare_Report_Summary_ByProductTypeAndPeriod(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	f.paid(t, "trx-1", split.ProductCampaign, 1_000_000, 0, march.Add(time.Hour))
	f.paid(t, "trx-2", split.ProductCampaign, 500_000, 0, march.Add(2*time.Hour))
	f.paid(t, "trx-3", split.ProductQurban, 4_500_000, 1_000_000, march.Add(3*time.Hour))
	f.paid(t, "trx-4", split.ProductCampaign, 2_000_000, 0, april.Add(time.Hour))
	_, err := f.engine.Reverse(ctx, "trx-2", "refund")
	require.NoError(t, err)

	s, err := f.agg.Summary(ctx, report.SummaryFilter{Period: report.Period{From: march, To: april}})
	require.NoError(t, err)
	require.Len(t, s.Rows, 2)

	campaign := s.Rows[0]
	require.Equal(t, split.ProductCampaign, campaign.ProductType)
	require.Equal(t, split.FormulaA, campaign.Formula)
	require.Equal(t, int64(2), campaign.Transactions)
	require.Equal(t, int64(1), campaign.Reversals)
	require.Equal(t, money.Amount(1_000_000), campaign.Amount)
	require.Equal(t, money.Amount(800_000), campaign.Program)
	require.Equal(t, money.Amount(200_000), campaign.AmilGross)
	require.Equal(t, money.Amount(100_000), campaign.Mitra)

	qurban := s.Rows[1]
	require.Equal(t, split.FormulaB, qurban.Formula)
	require.Equal(t, money.Amount(3_500_000), qurban.AnimalAmount)
	require.Equal(t, money.Amount(1_000_000), qurban.AdminFee)
	require.Equal(t, money.Amount(200_000), qurban.OwnerApp)
	require.Equal(t, money.Amount(800_000), qurban.MitraAdmin)

	require.Equal(t, money.Amount(5_500_000), s.Total.Amount)

	only, err := f.agg.Summary(ctx, report.SummaryFilter{ProductType: split.ProductQurban})
	require.NoError(t, err)
	require.Len(t, only.Rows, 1)

	_, err = f.agg.Summary(ctx, report.SummaryFilter{Period: report.Period{From: april, To: march}})
	require.Error(t, err)
}

func TestRevShare_Report_PartyStatement(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	f.paid(t, "trx-1", split.ProductCampaign, 1_000_000, 0, march)
	f.clock.Advance(24 * time.Hour)
	boundary := f.clock.Now()
	f.clock.Advance(time.Hour)
	f.paid(t, "trx-2", split.ProductCampaign, 2_000_000, 0, march)

	d, err := f.wf.Create(ctx, disbursement.CreateRequest{Type: disbursement.TypeRevenueShare, Party: mitra, Amount: 120_000, RequesterID: "mitra-admin"})
	require.NoError(t, err)
	_, err = f.wf.Submit(ctx, d.ID, "mitra-admin")
	require.NoError(t, err)
	_, err = f.wf.Approve(ctx, d.ID, "finance-lead", "")
	require.NoError(t, err)
	_, err = f.wf.Pay(ctx, d.ID, "finance-ops", disbursement.PayRequest{ProofReference: "proof/1.pdf", TransferDate: f.clock.Now(), Amount: 120_000})
	require.NoError(t, err)

	held, err := f.wf.Create(ctx, disbursement.CreateRequest{Type: disbursement.TypeRevenueShare, Party: mitra, Amount: 50_000, RequesterID: "mitra-admin"})
	require.NoError(t, err)
	_, err = f.wf.Submit(ctx, held.ID, "mitra-admin")
	require.NoError(t, err)

	_, err = f.engine.Reverse(ctx, "trx-2", "refund")
	require.ErrorContains(t, err, "allocated")

	st, err := f.agg.PartyStatement(ctx, mitra, report.Period{From: boundary})
	require.NoError(t, err)
	require.Equal(t, money.Amount(100_000), st.Opening)
	require.Equal(t, money.Amount(200_000), st.Earned)
	require.Equal(t, money.Amount(120_000), st.Withdrawn)
	require.Equal(t, money.Amount(180_000), st.Closing)
	require.Equal(t, money.Amount(180_000), st.CurrentBalance)
	require.Equal(t, money.Amount(50_000), st.Held)
	require.Equal(t, int64(2), st.Movements)

	_, err = f.agg.PartyStatement(ctx, party.Ref{Type: "donor", ID: "x"}, report.Period{})
	require.Error(t, err)
}

func TestRevShare_Report_Disbursements_Rollup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := t.Context()

	for _, amount := range []money.Amount{1_000_000, 2_000_000} {
		d, err := f.wf.Create(ctx, disbursement.CreateRequest{Type: disbursement.TypeVendor, Amount: amount, RequesterID: "ops"})
		require.NoError(t, err)
		_, err = f.wf.Submit(ctx, d.ID, "ops")
		require.NoError(t, err)
	}
	z, err := f.wf.Create(ctx, disbursement.CreateRequest{Type: disbursement.TypeZakat, Category: "fakir_miskin", Amount: 750_000, RequesterID: "ops"})
	require.NoError(t, err)
	_, err = f.wf.Submit(ctx, z.ID, "ops")
	require.NoError(t, err)
	_, err = f.wf.Approve(ctx, z.ID, "finance-lead", "")
	require.NoError(t, err)
	_, err = f.wf.Pay(ctx, z.ID, "finance-ops", disbursement.PayRequest{ProofReference: "proof/z.pdf", TransferDate: f.clock.Now(), Amount: 750_000})
	require.NoError(t, err)

	rows, err := f.agg.Disbursements(ctx, report.DisbursementFilter{})
	require.NoError(t, err)
	require.Equal(t, []report.DisbursementRow{
		{Type: "vendor", Category: "vendor", Status: "submitted", Count: 2, Requested: 3_000_000},
		{Type: "zakat", Category: "fakir_miskin", Status: "paid", Count: 1, Requested: 750_000, Paid: 750_000},
	}, rows)

	rows, err = f.agg.Disbursements(ctx, report.DisbursementFilter{Type: "zakat"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
