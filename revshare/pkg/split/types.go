// Package split computes how a paid donation is divided between the program
// and the earning parties.
package split

import (
	"fmt"
	"strings"
	"time"

	"github.com/ziswaf/revshare/revshare/pkg/money"
)

type ProductType string

const (
	ProductCampaign ProductType = "campaign"
	ProductZakat    ProductType = "zakat"
	ProductQurban   ProductType = "qurban"
	ProductWakaf    ProductType = "wakaf"
	ProductFidyah   ProductType = "fidyah"
)

func ParseProductType(s string) (ProductType, error) {
	p := ProductType(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProductCampaign, ProductZakat, ProductQurban, ProductWakaf, ProductFidyah:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown product type %q", ErrInvalidTransaction, s)
}

// Pillar is the religious category a donation was tagged with.
type Pillar string

const (
	PillarNone     Pillar = ""
	PillarZakat    Pillar = "zakat"
	PillarShodaqoh Pillar = "shodaqoh"
	PillarInfaq    Pillar = "infaq"
	PillarWakaf    Pillar = "wakaf"
	PillarFidyah   Pillar = "fidyah"
	PillarQurban   Pillar = "qurban"
)

func ParsePillar(s string) (Pillar, error) {
	p := Pillar(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PillarNone, PillarZakat, PillarShodaqoh, PillarInfaq, PillarWakaf, PillarFidyah, PillarQurban:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown pillar %q", ErrInvalidTransaction, s)
}

type Formula string

const (
	// FormulaA is percentage-of-total under an amil cap.
	FormulaA Formula = "A"
	// FormulaB splits a fixed qurban admin fee.
	FormulaB Formula = "B"
	// FormulaExempt sends the full amount to the program.
	FormulaExempt Formula = "EXEMPT"
)

// Transaction is a confirmed payment. Amounts are minor units.
type Transaction struct {
	ID              string       `json:"transaction_id"`
	ProductType     ProductType  `json:"product_type"`
	Pillar          Pillar       `json:"pillar"`
	Amount          money.Amount `json:"amount"`
	AdminFee        money.Amount `json:"admin_fee"` // qurban only
	AnimalType      string       `json:"animal_type,omitempty"`
	ReferralAgentID string       `json:"referral_agent_id,omitempty"`
	PartnerID       string       `json:"partner_id,omitempty"`
	PaidAt          time.Time    `json:"paid_at"`
}

func (tx Transaction) HasReferral() bool { return strings.TrimSpace(tx.ReferralAgentID) != "" }

func (tx Transaction) HasPartner() bool { return strings.TrimSpace(tx.PartnerID) != "" }

// Validate checks the transaction facts that do not depend on settings.
func (tx Transaction) Validate() error {
	_, err := tx.Normalize()
	return err
}

// Normalize validates tx and returns it with the product type and pillar in
// canonical form. Everything that compares or stores them works on the
// normalized copy.
func (tx Transaction) Normalize() (Transaction, error) {
	if strings.TrimSpace(tx.ID) == "" {
		return tx, fmt.Errorf("%w: transaction id is required", ErrInvalidTransaction)
	}
	pt, err := ParseProductType(string(tx.ProductType))
	if err != nil {
		return tx, err
	}
	pillar, err := ParsePillar(string(tx.Pillar))
	if err != nil {
		return tx, err
	}
	if err := tx.checkAmounts(); err != nil {
		return tx, err
	}
	tx.ProductType, tx.Pillar = pt, pillar
	return tx, nil
}

func (tx Transaction) checkAmounts() error {
	if tx.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	}
	if tx.AdminFee < 0 {
		return fmt.Errorf("%w: admin fee must not be negative", ErrInvalidTransaction)
	}
	if tx.AdminFee > tx.Amount {
		return fmt.Errorf("%w: admin fee %d exceeds amount %d", ErrInvalidTransaction, tx.AdminFee, tx.Amount)
	}
	if tx.PaidAt.IsZero() {
		return fmt.Errorf("%w: paid_at is required", ErrInvalidTransaction)
	}
	return nil
}

// Exempt reports whether the donation is never split.
func (tx Transaction) Exempt() bool {
	pt, _ := ParseProductType(string(tx.ProductType))
	pillar, _ := ParsePillar(string(tx.Pillar))
	return pillar == PillarWakaf || pillar == PillarFidyah ||
		pt == ProductWakaf || pt == ProductFidyah
}

// Result is one split. Formula A fills the program/amil columns; Formula B
// fills the animal/admin-fee columns; exempt results only carry Program.
type Result struct {
	Formula         Formula `json:"formula"`
	SnapshotVersion int64   `json:"snapshot_version"`

	Program    money.Amount `json:"program_amount"`
	AmilGross  money.Amount `json:"amil_gross"`
	Developer  money.Amount `json:"developer_amount"`
	Fundraiser money.Amount `json:"fundraiser_amount"`
	Mitra      money.Amount `json:"mitra_amount"`
	AmilNet    money.Amount `json:"amil_net"`

	AnimalAmount money.Amount `json:"animal_amount"`
	AdminFee     money.Amount `json:"admin_fee"`
	OwnerApp     money.Amount `json:"owner_app_amount"`
	MitraAdmin   money.Amount `json:"mitra_admin_amount"`
}

// Total is the amount the result accounts for.
func (r Result) Total() money.Amount {
	switch r.Formula {
	case FormulaB:
		return r.AnimalAmount + r.OwnerApp + r.MitraAdmin
	default:
		return r.Program + r.AmilGross
	}
}

// Conserved reports whether the result accounts for exactly amount and its
// internal decomposition holds.
func (r Result) Conserved(amount money.Amount) bool {
	switch r.Formula {
	case FormulaA:
		return r.Program+r.AmilGross == amount &&
			r.AmilNet+r.Developer+r.Fundraiser+r.Mitra == r.AmilGross
	case FormulaB:
		return r.AnimalAmount+r.AdminFee == amount && r.OwnerApp+r.MitraAdmin == r.AdminFee
	case FormulaExempt:
		return r.Program == amount && r.AmilGross == 0 && r.Developer == 0 && r.Fundraiser == 0 &&
			r.Mitra == 0 && r.AmilNet == 0 && r.OwnerApp == 0 && r.MitraAdmin == 0
	}
	return false
}

// Negate returns the offsetting result used by reversals.
func (r Result) Negate() Result {
	return Result{
		Formula:         r.Formula,
		SnapshotVersion: r.SnapshotVersion,
		Program:         -r.Program,
		AmilGross:       -r.AmilGross,
		Developer:       -r.Developer,
		Fundraiser:      -r.Fundraiser,
		Mitra:           -r.Mitra,
		AmilNet:         -r.AmilNet,
		AnimalAmount:    -r.AnimalAmount,
		AdminFee:        -r.AdminFee,
		OwnerApp:        -r.OwnerApp,
		MitraAdmin:      -r.MitraAdmin,
	}
}
