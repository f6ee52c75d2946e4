// Package balance keeps the running balance of every earning party and an
// append-only log of each movement.
package balance

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// InsufficientBalanceError reports a debit or request larger than what the party has.
type InsufficientBalanceError struct {
	Party     party.Ref
	Requested money.Amount
	Available money.Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: requested %s, available %s", e.Party, e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// Reason says why a balance moved.
type Reason string

const (
	ReasonRevenueShare Reason = "revenue_share"
	ReasonReversal     Reason = "reversal"
	ReasonDisbursement Reason = "disbursement"
)

// Balance is the running total for one party.
// CurrentBalance == TotalEarned - TotalWithdrawn; reversals reduce TotalEarned.
type Balance struct {
	Party          party.Ref    `json:"party"`
	CurrentBalance money.Amount `json:"current_balance"`
	TotalEarned    money.Amount `json:"total_earned"`
	TotalWithdrawn money.Amount `json:"total_withdrawn"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Movement is one immutable balance change.
type Movement struct {
	ID           uuid.UUID    `json:"id"`
	Party        party.Ref    `json:"party"`
	Delta        money.Amount `json:"delta"`
	Reason       Reason       `json:"reason"`
	Reference    string       `json:"reference"`
	BalanceAfter money.Amount `json:"balance_after"`
	CreatedAt    time.Time    `json:"created_at"`
}
