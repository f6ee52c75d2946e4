package allocation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
)

func open(amount, allocated money.Amount, age int) OpenShare {
	return OpenShare{
		Source:    ledger.ShareRef{RecordID: uuid.New(), PartyType: party.Mitra},
		Amount:    amount,
		Allocated: allocated,
		EarnedAt:  time.Date(2026, 1, age, 0, 0, 0, 0, time.UTC),
	}
}

func TestRevShare_Allocation_PlanFIFO_OldestFirst(t *testing.T) {
	t.Parallel()

	shares := []OpenShare{open(100, 40, 1), open(200, 0, 2), open(300, 0, 3)}
	plan, err := PlanFIFO(shares, 250)
	require.NoError(t, err)
	require.Equal(t, []Plan{
		{Source: shares[0].Source, Amount: 60},
		{Source: shares[1].Source, Amount: 190},
	}, plan)
}

func TestRevShare_Allocation_PlanFIFO_SkipsExhausted(t *testing.T) {
	t.Parallel()

	shares := []OpenShare{open(100, 100, 1), open(50, 0, 2)}
	plan, err := PlanFIFO(shares, 50)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, shares[1].Source, plan[0].Source)
}

func TestRevShare_Allocation_PlanFIFO_RefusesShortfall(t *testing.T) {
	t.Parallel()

	plan, err := PlanFIFO([]OpenShare{open(100, 0, 1), open(50, 20, 2)}, 200)
	require.ErrorIs(t, err, ErrOverAllocation)
	require.Nil(t, plan)
	var over *OverAllocationError
	require.ErrorAs(t, err, &over)
	require.Equal(t, money.Amount(130), over.Remaining)

	_, err = PlanFIFO(nil, 0)
	require.Error(t, err)
}

func TestRevShare_Allocation_PlanFIFO_ExactCover(t *testing.T) {
	t.Parallel()

	shares := []OpenShare{open(100, 0, 1), open(50, 0, 2)}
	plan, err := PlanFIFO(shares, 150)
	require.NoError(t, err)
	var total money.Amount
	for _, p := range plan {
		total += p.Amount
	}
	require.Equal(t, money.Amount(150), total)
}
