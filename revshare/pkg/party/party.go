// Package party identifies the accounts that earn revenue shares.
package party

import (
	"fmt"
	"strings"
)

// Type is the kind of earning party.
type Type string

const (
	Amil       Type = "amil"
	Developer  Type = "developer"
	Fundraiser Type = "fundraiser"
	Mitra      Type = "mitra"
)

// Types lists every party type in ledger order.
var Types = []Type{Amil, Developer, Fundraiser, Mitra}

func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown party type %q", s)
	}
	return t, nil
}

func (t Type) Valid() bool {
	switch t {
	case Amil, Developer, Fundraiser, Mitra:
		return true
	}
	return false
}

// Ref points at one party account.
type Ref struct {
	Type Type   `json:"party_type"`
	ID   string `json:"party_id"`
}

func (r Ref) String() string {
	return string(r.Type) + ":" + r.ID
}

func (r Ref) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("unknown party type %q", r.Type)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("party id is required")
	}
	return nil
}
