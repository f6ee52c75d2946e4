package disbursement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ziswaf/revshare/revshare/pkg/balance"
	"github.com/ziswaf/revshare/revshare/pkg/money"
)

var (
	ErrInvalidTransition = errors.New("invalid disbursement transition")
	ErrInvalidRequest    = errors.New("invalid disbursement request")
	ErrNotFound          = errors.New("disbursement not found")
)

// Guard names a precondition of a transition.
type Guard string

const (
	GuardState               Guard = "state"
	GuardActorRequired       Guard = "actor_required"
	GuardAmountPositive      Guard = "amount_positive"
	GuardAvailableBalance    Guard = "available_balance"
	GuardNoSelfApproval      Guard = "no_self_approval"
	GuardReasonRequired      Guard = "reason_required"
	GuardProofRequired       Guard = "proof_required"
	GuardProofExists         Guard = "proof_exists"
	GuardTransferDate        Guard = "transfer_date_required"
	GuardAmountMatches       Guard = "amount_matches"
	GuardRequesterOnly       Guard = "requester_only"
	GuardSingleResubmission  Guard = "single_resubmission"
	GuardAllocationAvailable Guard = "allocation_available"
)

// TransitionError is the typed rejection of an action. It names the guard
// that failed and wraps the underlying cause when there is one, such as an
// InsufficientBalanceError.
type TransitionError struct {
	Action Action
	From   Status
	Guard  Guard
	Reason string
	Err    error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s disbursement in status %s: %s", e.Action, e.From, e.Guard)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func (e *TransitionError) Unwrap() error { return e.Err }

// GuardOf returns the failed guard when err is a TransitionError.
func GuardOf(err error) (Guard, bool) {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Guard, true
	}
	return "", false
}

// Resubmit leaves the rejected request in place and opens a new draft.
var transitions = map[Action]struct {
	from Status
	to   Status
}{
	ActionSubmit:   {StatusDraft, StatusSubmitted},
	ActionApprove:  {StatusSubmitted, StatusApproved},
	ActionReject:   {StatusSubmitted, StatusRejected},
	ActionPay:      {StatusApproved, StatusPaid},
	ActionRecall:   {StatusSubmitted, StatusDraft},
	ActionResubmit: {StatusRejected, StatusRejected},
}

// Target is the status an action moves a request to.
func Target(a Action) (Status, bool) {
	t, ok := transitions[a]
	return t.to, ok
}

// Input carries what an action needs beyond the request itself.
type Input struct {
	Actor string
	// Reason is required to reject.
	Reason string
	Note   string

	ProofReference string
	TransferDate   time.Time
	PaidAmount     money.Amount

	// Available is the party balance minus other requests' holds. The
	// workflow fills it for revenue-share requests only.
	Available *money.Amount
	// Resubmitted is set when the request already has a successor.
	Resubmitted bool
	// Amount replaces the requested amount on resubmission when positive.
	Amount money.Amount
}

// Check runs the guards of action a against d without changing it.
func Check(d Disbursement, a Action, in Input) error {
	t, ok := transitions[a]
	if !ok {
		return &TransitionError{Action: a, From: d.Status, Guard: GuardState, Reason: "unknown action"}
	}
	fail := func(g Guard, reason string, err error) error {
		return &TransitionError{Action: a, From: d.Status, Guard: g, Reason: reason, Err: err}
	}

	if d.Status != t.from {
		return fail(GuardState, fmt.Sprintf("requires status %s", t.from), nil)
	}
	if strings.TrimSpace(in.Actor) == "" {
		return fail(GuardActorRequired, "actor identity is required", nil)
	}

	switch a {
	case ActionSubmit:
		if d.RequestedAmount <= 0 {
			return fail(GuardAmountPositive, fmt.Sprintf("requested amount %s must be positive", d.RequestedAmount), nil)
		}
		if err := checkAvailable(d, in, fail); err != nil {
			return err
		}

	case ActionApprove:
		if d.IsRevenueShare() && in.Actor == d.RequesterID {
			return fail(GuardNoSelfApproval, "approver must differ from requester", nil)
		}
		if err := checkAvailable(d, in, fail); err != nil {
			return err
		}

	case ActionReject:
		if strings.TrimSpace(in.Reason) == "" {
			return fail(GuardReasonRequired, "a rejection reason is required", nil)
		}

	case ActionPay:
		if strings.TrimSpace(in.ProofReference) == "" {
			return fail(GuardProofRequired, "a payment proof reference is required", nil)
		}
		if in.TransferDate.IsZero() {
			return fail(GuardTransferDate, "a transfer date is required", nil)
		}
		if in.PaidAmount != d.RequestedAmount {
			return fail(GuardAmountMatches, fmt.Sprintf("paid amount %s differs from requested %s", in.PaidAmount, d.RequestedAmount), nil)
		}
		if err := checkAvailable(d, in, fail); err != nil {
			return err
		}

	case ActionRecall:
		if in.Actor != d.RequesterID {
			return fail(GuardRequesterOnly, "only the requester can recall", nil)
		}

	case ActionResubmit:
		if in.Actor != d.RequesterID {
			return fail(GuardRequesterOnly, "only the requester can resubmit", nil)
		}
		if in.Amount < 0 {
			return fail(GuardAmountPositive, fmt.Sprintf("requested amount %s must be positive", in.Amount), nil)
		}
		if in.Resubmitted {
			return fail(GuardSingleResubmission, "request was already resubmitted", nil)
		}
	}
	return nil
}

func checkAvailable(d Disbursement, in Input, fail func(Guard, string, error) error) error {
	if !d.IsRevenueShare() || in.Available == nil {
		return nil
	}
	if d.RequestedAmount > *in.Available {
		err := &balance.InsufficientBalanceError{Party: d.Party, Requested: d.RequestedAmount, Available: max(*in.Available, 0)}
		return fail(GuardAvailableBalance, err.Error(), err)
	}
	return nil
}

// Apply checks the guards and returns the request after the action. For
// ActionResubmit it returns the new draft; the rejected request is unchanged.
func Apply(d Disbursement, a Action, in Input, now time.Time) (Disbursement, error) {
	if err := Check(d, a, in); err != nil {
		return Disbursement{}, err
	}
	now = now.UTC()
	next := d
	next.UpdatedAt = now
	next.Status = transitions[a].to

	switch a {
	case ActionSubmit:
		next.SubmittedAt = &now
	case ActionApprove:
		next.ApproverID = in.Actor
		next.ApprovedAt = &now
	case ActionReject:
		next.RejectedBy = in.Actor
		next.RejectedAt = &now
		next.RejectionReason = strings.TrimSpace(in.Reason)
	case ActionPay:
		td := time.Date(in.TransferDate.Year(), in.TransferDate.Month(), in.TransferDate.Day(), 0, 0, 0, 0, time.UTC)
		next.ProofReference = strings.TrimSpace(in.ProofReference)
		next.TransferDate = &td
		next.PaidAmount = in.PaidAmount
		next.PaidBy = in.Actor
		next.PaidAt = &now
	case ActionRecall:
		next.SubmittedAt = nil
	case ActionResubmit:
		prev := d.ID
		amount := d.RequestedAmount
		if in.Amount > 0 {
			amount = in.Amount
		}
		return Disbursement{
			Type:            d.Type,
			Category:        d.Category,
			Party:           d.Party,
			Recipient:       d.Recipient,
			RequestedAmount: amount,
			Status:          StatusDraft,
			RequesterID:     d.RequesterID,
			Note:            firstNonEmpty(in.Note, d.Note),
			PreviousID:      &prev,
			CreatedAt:       now,
			UpdatedAt:       now,
		}, nil
	}
	return next, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
