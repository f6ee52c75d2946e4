// Package ledger stores one revenue-share record per paid transaction and
// the party shares it earns. Records are never edited; a reversal is a new
// record with negated amounts.
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
	"github.com/ziswaf/revshare/revshare/pkg/split"
)

var (
	ErrAlreadyRecorded    = errors.New("revenue share already recorded")
	ErrAllocationConflict = errors.New("revenue share already allocated to a disbursement")
	ErrAlreadyReversed    = errors.New("revenue share already reversed")
	ErrNotFound           = errors.New("revenue share record not found")
)

type Kind string

const (
	KindOriginal Kind = "original"
	KindReversal Kind = "reversal"
)

// Record is a stored split together with the transaction facts it was computed from.
type Record struct {
	ID          uuid.UUID         `json:"id"`
	Kind        Kind              `json:"kind"`
	ReversesID  *uuid.UUID        `json:"reverses_id,omitempty"`
	Transaction split.Transaction `json:"transaction"`
	split.Result
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Shares    []Share   `json:"shares"`
}

// Share is the part of a record earned by one party.
type Share struct {
	RecordID uuid.UUID    `json:"record_id"`
	Party    party.Ref    `json:"party"`
	Amount   money.Amount `json:"amount"`
	EarnedAt time.Time    `json:"earned_at"`
}

// ShareRef identifies one party share of one record.
type ShareRef struct {
	RecordID  uuid.UUID  `json:"record_id"`
	PartyType party.Type `json:"party_type"`
}

// Parties names the accounts that are not carried on the transaction.
type Parties struct {
	AmilID      string
	DeveloperID string
}

// SharesFor maps a split onto party accounts. Zero shares are omitted and
// the order follows party.Types.
//
// Formula A: amil net to amil, developer, fundraiser to the referral agent,
// mitra to the owning partner. Formula B: owner-app to the developer and
// mitra-admin to the partner, or to amil when the qurban has no partner.
func SharesFor(tx split.Transaction, r split.Result, p Parties) []Share {
	byType := map[party.Type]Share{}
	add := func(t party.Type, id string, amount money.Amount) {
		if amount == 0 {
			return
		}
		s := byType[t]
		s.Party = party.Ref{Type: t, ID: id}
		s.Amount += amount
		s.EarnedAt = tx.PaidAt
		byType[t] = s
	}

	switch r.Formula {
	case split.FormulaA:
		add(party.Amil, p.AmilID, r.AmilNet)
		add(party.Developer, p.DeveloperID, r.Developer)
		add(party.Fundraiser, tx.ReferralAgentID, r.Fundraiser)
		add(party.Mitra, tx.PartnerID, r.Mitra)
	case split.FormulaB:
		add(party.Developer, p.DeveloperID, r.OwnerApp)
		if tx.HasPartner() {
			add(party.Mitra, tx.PartnerID, r.MitraAdmin)
		} else {
			add(party.Amil, p.AmilID, r.MitraAdmin)
		}
	}

	out := make([]Share, 0, len(byType))
	for _, t := range party.Types {
		if s, ok := byType[t]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	From        time.Time
	To          time.Time
	ProductType split.ProductType
	Kind        Kind
	Limit       int
	Offset      int
}
