package split

import (
	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/settings"
)

// Compute splits tx using snap. It is pure: the same inputs always give the
// same result, and snap is the only source of percentages.
func Compute(tx Transaction, snap settings.Snapshot) (Result, error) {
	tx, err := tx.Normalize()
	if err != nil {
		return Result{}, err
	}

	if tx.Exempt() {
		return exempt(tx.Amount, snap.Version), nil
	}

	if tx.ProductType == ProductQurban {
		fee, err := adminFee(tx, snap)
		if err != nil {
			return Result{}, err
		}
		if fee == 0 {
			return exempt(tx.Amount, snap.Version), nil
		}
		return formulaB(tx.Amount, fee, snap)
	}

	return formulaA(tx, snap)
}

func adminFee(tx Transaction, snap settings.Snapshot) (money.Amount, error) {
	if tx.AdminFee > 0 || tx.AnimalType == "" {
		return tx.AdminFee, nil
	}
	fee, ok := snap.AdminFee(tx.AnimalType)
	if !ok {
		return 0, violation(snap.Version, RuleUnknownAnimal, "no admin fee configured for animal type %q", tx.AnimalType)
	}
	if fee < 0 || fee > tx.Amount {
		return 0, violation(snap.Version, RuleUnknownAnimal, "admin fee %d for %q does not fit amount %d", fee, tx.AnimalType, tx.Amount)
	}
	return fee, nil
}

func exempt(amount money.Amount, version int64) Result {
	return Result{Formula: FormulaExempt, SnapshotVersion: version, Program: amount}
}

func formulaA(tx Transaction, snap settings.Snapshot) (Result, error) {
	amilCap, mitraPct := snap.AmilShodaqoh, snap.MitraShodaqoh
	if tx.ProductType == ProductZakat {
		amilCap, mitraPct = snap.AmilZakat, snap.MitraZakat
	}

	for _, c := range []struct {
		name string
		p    money.Percent
	}{
		{"amil cap", amilCap},
		{"developer", snap.Developer},
		{"fundraiser", snap.Fundraiser},
		{"mitra", mitraPct},
	} {
		if !c.p.InRange() {
			return Result{}, violation(snap.Version, RulePercentRange, "%s percentage %s is outside [0, 100]", c.name, c.p)
		}
	}

	if tx.ProductType == ProductZakat && amilCap.GreaterThan(settings.ZakatAmilCeiling) {
		return Result{}, violation(snap.Version, RuleZakatAmilCap,
			"zakat amil cap %s exceeds %s", amilCap, settings.ZakatAmilCeiling)
	}

	if sum := snap.Developer.Add(snap.Fundraiser).Add(mitraPct); sum.GreaterThan(amilCap) {
		return Result{}, violation(snap.Version, RulePartySumCap,
			"developer %s + fundraiser %s + mitra %s = %s exceeds amil cap %s",
			snap.Developer, snap.Fundraiser, mitraPct, sum, amilCap)
	}

	r := Result{Formula: FormulaA, SnapshotVersion: snap.Version}
	r.AmilGross = amilCap.ApplyFloor(tx.Amount)
	r.Developer = snap.Developer.ApplyFloor(tx.Amount)
	if tx.HasReferral() {
		r.Fundraiser = snap.Fundraiser.ApplyFloor(tx.Amount)
	}
	if tx.HasPartner() {
		r.Mitra = mitraPct.ApplyFloor(tx.Amount)
	}
	r.AmilNet = r.AmilGross - r.Developer - r.Fundraiser - r.Mitra
	r.Program = tx.Amount - r.AmilGross

	if r.AmilNet < 0 {
		return Result{}, violation(snap.Version, RuleNegativeNet,
			"amil net would be %d for amount %d", r.AmilNet, tx.Amount)
	}
	return r, nil
}

func formulaB(amount, fee money.Amount, snap settings.Snapshot) (Result, error) {
	if !snap.QurbanOwnerApp.InRange() {
		return Result{}, violation(snap.Version, RulePercentRange,
			"qurban owner app percentage %s is outside [0, 100]", snap.QurbanOwnerApp)
	}

	r := Result{Formula: FormulaB, SnapshotVersion: snap.Version, AdminFee: fee}
	r.AnimalAmount = amount - fee
	r.OwnerApp = snap.QurbanOwnerApp.ApplyFloor(fee)
	r.MitraAdmin = fee - r.OwnerApp
	return r, nil
}
