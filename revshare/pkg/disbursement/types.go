// Package disbursement runs payout requests through draft, submitted,
// approved or rejected, and paid. The state machine in machine.go is pure;
// Workflow persists it and settles revenue-share payouts against balances.
package disbursement

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusPaid      Status = "paid"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected, StatusPaid:
		return st, nil
	}
	return "", fmt.Errorf("unknown disbursement status %q", s)
}

// Terminal reports whether no action can leave the status in place.
func (s Status) Terminal() bool { return s == StatusPaid }

type Type string

const (
	TypeCampaign     Type = "campaign"
	TypeZakat        Type = "zakat"
	TypeQurban       Type = "qurban"
	TypeOperational  Type = "operational"
	TypeVendor       Type = "vendor"
	TypeRevenueShare Type = "revenue_share"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeCampaign, TypeZakat, TypeQurban, TypeOperational, TypeVendor, TypeRevenueShare:
		return t, nil
	}
	return "", fmt.Errorf("unknown disbursement type %q", s)
}

// Category refines a type, e.g. revenue_share_mitra.
type Category string

// RevenueShareCategory is the only category allowed for a revenue-share payout to pt.
func RevenueShareCategory(pt party.Type) Category {
	return Category(string(TypeRevenueShare) + "_" + string(pt))
}

// ResolveCategory checks category against the type and party, filling the default when empty.
func ResolveCategory(t Type, c Category, p party.Ref) (Category, error) {
	c = Category(strings.ToLower(strings.TrimSpace(string(c))))
	if t == TypeRevenueShare {
		want := RevenueShareCategory(p.Type)
		if c != "" && c != want {
			return "", fmt.Errorf("category %q does not match party type %q (want %q)", c, p.Type, want)
		}
		return want, nil
	}
	if strings.HasPrefix(string(c), string(TypeRevenueShare)) {
		return "", fmt.Errorf("category %q requires type revenue_share", c)
	}
	if c == "" {
		return Category(t), nil
	}
	return c, nil
}

type Action string

const (
	ActionCreate   Action = "create"
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionPay      Action = "pay"
	ActionRecall   Action = "recall"
	ActionResubmit Action = "resubmit"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionSubmit, ActionApprove, ActionReject, ActionPay, ActionRecall, ActionResubmit:
		return a, nil
	}
	return "", fmt.Errorf("unknown disbursement action %q", s)
}

// Disbursement is one payout request and its approval trail.
type Disbursement struct {
	ID              uuid.UUID    `json:"id"`
	Type            Type         `json:"type"`
	Category        Category     `json:"category"`
	Party           party.Ref    `json:"party"`
	Recipient       string       `json:"recipient,omitempty"`
	RequestedAmount money.Amount `json:"requested_amount"`
	Status          Status       `json:"status"`
	RequesterID     string       `json:"requester_id"`
	Note            string       `json:"note,omitempty"`

	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	ApproverID      string     `json:"approver_id,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	ProofReference string       `json:"proof_reference,omitempty"`
	TransferDate   *time.Time   `json:"transfer_date,omitempty"`
	PaidAmount     money.Amount `json:"paid_amount,omitempty"`
	PaidBy         string       `json:"paid_by,omitempty"`
	PaidAt         *time.Time   `json:"paid_at,omitempty"`

	PreviousID *uuid.UUID `json:"previous_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsRevenueShare reports whether the payout draws on a party balance.
func (d Disbursement) IsRevenueShare() bool { return d.Type == TypeRevenueShare }

// Event is one row of the audit trail.
type Event struct {
	ID             uuid.UUID `json:"id"`
	DisbursementID uuid.UUID `json:"disbursement_id"`
	Action         Action    `json:"action"`
	From           Status    `json:"from_status,omitempty"`
	To             Status    `json:"to_status"`
	ActorID        string    `json:"actor_id"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Status Status
	Type   Type
	Party  party.Ref
	Limit  int
	Offset int
}
