package disbursement

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ziswaf/revshare/revshare/pkg/balance"
	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
)

var now = time.Date(2026, 5, 2, 3, 4, 5, 0, time.UTC)

func revenueShare(status Status, amount money.Amount) Disbursement {
	return Disbursement{
		ID:              uuid.New(),
		Type:            TypeRevenueShare,
		Category:        RevenueShareCategory(party.Mitra),
		Party:           party.Ref{Type: party.Mitra, ID: "mitra-1"},
		RequestedAmount: amount,
		Status:          status,
		RequesterID:     "mitra-admin",
	}
}

func avail(a money.Amount) *money.Amount { return &a }

func requireGuard(t *testing.T, err error, want Guard) {
	t.Helper()
	require.ErrorIs(t, err, ErrInvalidTransition)
	g, ok := GuardOf(err)
	require.True(t, ok)
	require.Equal(t, want, g)
}

func TestRevShare_Disbursement_Machine_HappyPath(t *testing.T) {
	t.Parallel()

	d := revenueShare(StatusDraft, 250_000)
	d, err := Apply(d, ActionSubmit, Input{Actor: "mitra-admin", Available: avail(300_000)}, now)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, d.Status)
	require.Equal(t, now, *d.SubmittedAt)

	d, err = Apply(d, ActionApprove, Input{Actor: "finance-lead", Available: avail(300_000)}, now)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, d.Status)
	require.Equal(t, "finance-lead", d.ApproverID)

	transfer := time.Date(2026, 5, 3, 15, 30, 0, 0, time.FixedZone("WIB", 7*3600))
	d, err = Apply(d, ActionPay, Input{Actor: "finance-ops", ProofReference: "proof/d-1.pdf", TransferDate: transfer, PaidAmount: 250_000, Available: avail(250_000)}, now)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, d.Status)
	require.Equal(t, "proof/d-1.pdf", d.ProofReference)
	require.Equal(t, time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC), *d.TransferDate)
	require.True(t, d.Status.Terminal())
}

func TestRevShare_Disbursement_Machine_Guards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		d      Disbursement
		action Action
		in     Input
		guard  Guard
	}{
		{"submit zero amount", revenueShare(StatusDraft, 0), ActionSubmit, Input{Actor: "mitra-admin"}, GuardAmountPositive},
		{"submit over available", revenueShare(StatusDraft, 500_000), ActionSubmit, Input{Actor: "mitra-admin", Available: avail(300_000)}, GuardAvailableBalance},
		{"missing actor", revenueShare(StatusDraft, 1), ActionSubmit, Input{}, GuardActorRequired},
		{"self approval", revenueShare(StatusSubmitted, 1), ActionApprove, Input{Actor: "mitra-admin"}, GuardNoSelfApproval},
		{"approve over available", revenueShare(StatusSubmitted, 10), ActionApprove, Input{Actor: "lead", Available: avail(9)}, GuardAvailableBalance},
		{"reject without reason", revenueShare(StatusSubmitted, 1), ActionReject, Input{Actor: "lead", Reason: "  "}, GuardReasonRequired},
		{"pay without proof", revenueShare(StatusApproved, 1), ActionPay, Input{Actor: "ops", TransferDate: now, PaidAmount: 1}, GuardProofRequired},
		{"pay without transfer date", revenueShare(StatusApproved, 1), ActionPay, Input{Actor: "ops", ProofReference: "p", PaidAmount: 1}, GuardTransferDate},
		{"partial payment", revenueShare(StatusApproved, 10), ActionPay, Input{Actor: "ops", ProofReference: "p", TransferDate: now, PaidAmount: 9}, GuardAmountMatches},
		{"recall by someone else", revenueShare(StatusSubmitted, 1), ActionRecall, Input{Actor: "lead"}, GuardRequesterOnly},
		{"second resubmission", revenueShare(StatusRejected, 1), ActionResubmit, Input{Actor: "mitra-admin", Resubmitted: true}, GuardSingleResubmission},
		{"resubmit by someone else", revenueShare(StatusRejected, 1), ActionResubmit, Input{Actor: "lead"}, GuardRequesterOnly},
		{"approve a draft", revenueShare(StatusDraft, 1), ActionApprove, Input{Actor: "lead"}, GuardState},
		{"pay a submitted request", revenueShare(StatusSubmitted, 1), ActionPay, Input{Actor: "ops", ProofReference: "p", TransferDate: now, PaidAmount: 1}, GuardState},
		{"reject a paid request", revenueShare(StatusPaid, 1), ActionReject, Input{Actor: "lead", Reason: "late"}, GuardState},
		{"resubmit a draft", revenueShare(StatusDraft, 1), ActionResubmit, Input{Actor: "mitra-admin"}, GuardState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			before := tt.d
			_, err := Apply(tt.d, tt.action, tt.in, now)
			requireGuard(t, err, tt.guard)
			require.Equal(t, before, tt.d)
		})
	}
}

func TestRevShare_Disbursement_Machine_InsufficientBalanceIsTyped(t *testing.T) {
	t.Parallel()

	_, err := Apply(revenueShare(StatusDraft, 500_000), ActionSubmit, Input{Actor: "mitra-admin", Available: avail(300_000)}, now)
	require.ErrorIs(t, err, balance.ErrInsufficientBalance)
	var ib *balance.InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	require.Equal(t, money.Amount(500_000), ib.Requested)
	require.Equal(t, money.Amount(300_000), ib.Available)
}

func TestRevShare_Disbursement_Machine_NonRevenueShareSkipsBalanceAndSelfApproval(t *testing.T) {
	t.Parallel()

	d := Disbursement{ID: uuid.New(), Type: TypeVendor, Category: "vendor", RequestedAmount: 1_000_000, Status: StatusDraft, RequesterID: "ops"}
	d, err := Apply(d, ActionSubmit, Input{Actor: "ops", Available: avail(0)}, now)
	require.NoError(t, err)
	d, err = Apply(d, ActionApprove, Input{Actor: "ops"}, now)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, d.Status)
}

func TestRevShare_Disbursement_Machine_RecallAndResubmit(t *testing.T) {
	t.Parallel()

	d, err := Apply(revenueShare(StatusSubmitted, 100), ActionRecall, Input{Actor: "mitra-admin"}, now)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, d.Status)
	require.Nil(t, d.SubmittedAt)

	rejected := revenueShare(StatusRejected, 500_000)
	next, err := Apply(rejected, ActionResubmit, Input{Actor: "mitra-admin", Amount: 300_000, Note: "reduced"}, now)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, next.Status)
	require.Equal(t, money.Amount(300_000), next.RequestedAmount)
	require.Equal(t, rejected.ID, *next.PreviousID)
	require.Equal(t, "reduced", next.Note)
	require.Equal(t, rejected.Party, next.Party)
}

func TestRevShare_Disbursement_Categories(t *testing.T) {
	t.Parallel()

	mitra := party.Ref{Type: party.Mitra, ID: "m"}
	c, err := ResolveCategory(TypeRevenueShare, "", mitra)
	require.NoError(t, err)
	require.Equal(t, Category("revenue_share_mitra"), c)

	_, err = ResolveCategory(TypeRevenueShare, "revenue_share_amil", mitra)
	require.Error(t, err)

	c, err = ResolveCategory(TypeOperational, "", party.Ref{})
	require.NoError(t, err)
	require.Equal(t, Category("operational"), c)

	_, err = ResolveCategory(TypeVendor, "revenue_share_mitra", party.Ref{})
	require.Error(t, err)

	_, err = ParseType("payroll")
	require.Error(t, err)
	_, err = ParseStatus("cancelled")
	require.Error(t, err)
	_, err = ParseAction("create")
	require.Error(t, err)
}
