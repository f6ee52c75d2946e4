// Package allocation binds payouts to the earned shares they settle, so the
// same share can never be paid out twice.
package allocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/money"
)

var ErrOverAllocation = errors.New("over allocation")

// OverAllocationError reports an allocation that would exceed what is left of a share
// (or, for FIFO, of all open shares of a party).
type OverAllocationError struct {
	Source    ledger.ShareRef
	Requested money.Amount
	Remaining money.Amount
}

func (e *OverAllocationError) Error() string {
	if e.Source.RecordID == uuid.Nil {
		return fmt.Sprintf("over allocation: requested %s, open shares total %s", e.Requested, e.Remaining)
	}
	return fmt.Sprintf("over allocation on %s/%s: requested %s, remaining %s",
		e.Source.RecordID, e.Source.PartyType, e.Requested, e.Remaining)
}

func (e *OverAllocationError) Is(target error) bool {
	return target == ErrOverAllocation
}

// Item is one disbursement allocation against one party share.
type Item struct {
	ID             uuid.UUID       `json:"id"`
	DisbursementID uuid.UUID       `json:"disbursement_id"`
	Source         ledger.ShareRef `json:"source"`
	Amount         money.Amount    `json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// OpenShare is a party share with what is still unallocated.
type OpenShare struct {
	Source    ledger.ShareRef
	Amount    money.Amount
	Allocated money.Amount
	EarnedAt  time.Time
}

func (s OpenShare) Remaining() money.Amount { return s.Amount - s.Allocated }

// Plan is one step of a FIFO allocation.
type Plan struct {
	Source ledger.ShareRef
	Amount money.Amount
}

// PlanFIFO covers amount from the oldest shares first. shares must already
// be ordered oldest first. It fails without a partial plan when the open
// shares cannot cover amount.
func PlanFIFO(shares []OpenShare, amount money.Amount) ([]Plan, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("allocation amount must be positive, got %s", amount)
	}

	var (
		plan []Plan
		left = amount
	)
	for _, s := range shares {
		if left == 0 {
			break
		}
		rem := s.Remaining()
		if rem <= 0 {
			continue
		}
		take := min(rem, left)
		plan = append(plan, Plan{Source: s.Source, Amount: take})
		left -= take
	}
	if left > 0 {
		return nil, &OverAllocationError{Requested: amount, Remaining: amount - left}
	}
	return plan, nil
}
