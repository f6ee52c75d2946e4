// Package settings turns the key/value settings maintained by the admin
// screens into typed, versioned snapshots.
package settings

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ziswaf/revshare/revshare/pkg/money"
)

const (
	KeyAmilZakat      = "amil_zakat_percentage"
	KeyAmilShodaqoh   = "amil_shodaqoh_percentage"
	KeyDeveloper      = "developer_percentage"
	KeyFundraiser     = "fundraiser_percentage"
	KeyMitraZakat     = "mitra_zakat_percentage"
	KeyMitraShodaqoh  = "mitra_shodaqoh_percentage"
	KeyQurbanOwnerApp = "qurban_owner_app_percentage"

	// KeyQurbanAdminFeePrefix is followed by the animal type, e.g. qurban_admin_fee_sapi.
	KeyQurbanAdminFeePrefix = "qurban_admin_fee_"
)

// ZakatAmilCeiling is the largest amil share allowed on zakat.
var ZakatAmilCeiling = money.MustPercent("12.5")

var percentKeys = []string{
	KeyAmilZakat,
	KeyAmilShodaqoh,
	KeyDeveloper,
	KeyFundraiser,
	KeyMitraZakat,
	KeyMitraShodaqoh,
	KeyQurbanOwnerApp,
}

var ErrInvalidSettings = errors.New("invalid settings")

// Snapshot is an immutable read of the revenue-share settings at one version.
type Snapshot struct {
	Version int64 `json:"version"`

	AmilZakat      money.Percent `json:"amil_zakat_percentage"`
	AmilShodaqoh   money.Percent `json:"amil_shodaqoh_percentage"`
	Developer      money.Percent `json:"developer_percentage"`
	Fundraiser     money.Percent `json:"fundraiser_percentage"`
	MitraZakat     money.Percent `json:"mitra_zakat_percentage"`
	MitraShodaqoh  money.Percent `json:"mitra_shodaqoh_percentage"`
	QurbanOwnerApp money.Percent `json:"qurban_owner_app_percentage"`

	// QurbanAdminFees maps animal type (lowercase) to its fixed admin fee.
	QurbanAdminFees map[string]money.Amount `json:"qurban_admin_fees"`

	CreatedAt time.Time `json:"created_at"`
}

// Parse builds a snapshot from raw settings. Every percentage key must be
// present and numeric; unrelated keys are ignored.
func Parse(version int64, kv map[string]string) (Snapshot, error) {
	s := Snapshot{Version: version, QurbanAdminFees: map[string]money.Amount{}}

	targets := map[string]*money.Percent{
		KeyAmilZakat:      &s.AmilZakat,
		KeyAmilShodaqoh:   &s.AmilShodaqoh,
		KeyDeveloper:      &s.Developer,
		KeyFundraiser:     &s.Fundraiser,
		KeyMitraZakat:     &s.MitraZakat,
		KeyMitraShodaqoh:  &s.MitraShodaqoh,
		KeyQurbanOwnerApp: &s.QurbanOwnerApp,
	}

	var errs []error
	for _, key := range percentKeys {
		raw, ok := kv[key]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: missing", key))
			continue
		}
		p, err := money.ParsePercent(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*targets[key] = p
	}

	for key, raw := range kv {
		animal, ok := strings.CutPrefix(key, KeyQurbanAdminFeePrefix)
		if !ok {
			continue
		}
		animal = strings.ToLower(strings.TrimSpace(animal))
		fee, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || animal == "" {
			errs = append(errs, fmt.Errorf("%s: invalid admin fee %q", key, raw))
			continue
		}
		s.QurbanAdminFees[animal] = money.Amount(fee)
	}

	if len(errs) > 0 {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return s, nil
}

// KV renders the snapshot back into raw settings.
func (s Snapshot) KV() map[string]string {
	kv := map[string]string{
		KeyAmilZakat:      s.AmilZakat.String(),
		KeyAmilShodaqoh:   s.AmilShodaqoh.String(),
		KeyDeveloper:      s.Developer.String(),
		KeyFundraiser:     s.Fundraiser.String(),
		KeyMitraZakat:     s.MitraZakat.String(),
		KeyMitraShodaqoh:  s.MitraShodaqoh.String(),
		KeyQurbanOwnerApp: s.QurbanOwnerApp.String(),
	}
	for animal, fee := range s.QurbanAdminFees {
		kv[KeyQurbanAdminFeePrefix+animal] = strconv.FormatInt(int64(fee), 10)
	}
	return kv
}

// AdminFee returns the fixed qurban admin fee for an animal type.
func (s Snapshot) AdminFee(animalType string) (money.Amount, bool) {
	fee, ok := s.QurbanAdminFees[strings.ToLower(strings.TrimSpace(animalType))]
	return fee, ok
}

// AnimalTypes lists configured animal types in sorted order.
func (s Snapshot) AnimalTypes() []string {
	out := make([]string, 0, len(s.QurbanAdminFees))
	for animal := range s.QurbanAdminFees {
		out = append(out, animal)
	}
	sort.Strings(out)
	return out
}

// Validate applies the save-time rules: every percentage in [0, 100], zakat
// amil at most 12.5%, and developer + fundraiser + mitra within each amil cap.
func (s Snapshot) Validate() error {
	var errs []error
	for key, p := range map[string]money.Percent{
		KeyAmilZakat:      s.AmilZakat,
		KeyAmilShodaqoh:   s.AmilShodaqoh,
		KeyDeveloper:      s.Developer,
		KeyFundraiser:     s.Fundraiser,
		KeyMitraZakat:     s.MitraZakat,
		KeyMitraShodaqoh:  s.MitraShodaqoh,
		KeyQurbanOwnerApp: s.QurbanOwnerApp,
	} {
		if !p.InRange() {
			errs = append(errs, fmt.Errorf("%s: %s is outside [0, 100]", key, p))
		}
	}

	if s.AmilZakat.GreaterThan(ZakatAmilCeiling) {
		errs = append(errs, fmt.Errorf("%s: %s exceeds %s", KeyAmilZakat, s.AmilZakat, ZakatAmilCeiling))
	}
	if sum := s.Developer.Add(s.Fundraiser).Add(s.MitraZakat); sum.GreaterThan(s.AmilZakat) {
		errs = append(errs, fmt.Errorf("developer + fundraiser + mitra zakat (%s) exceeds amil zakat (%s)", sum, s.AmilZakat))
	}
	if sum := s.Developer.Add(s.Fundraiser).Add(s.MitraShodaqoh); sum.GreaterThan(s.AmilShodaqoh) {
		errs = append(errs, fmt.Errorf("developer + fundraiser + mitra shodaqoh (%s) exceeds amil shodaqoh (%s)", sum, s.AmilShodaqoh))
	}

	for animal, fee := range s.QurbanAdminFees {
		if fee < 0 {
			errs = append(errs, fmt.Errorf("%s%s: negative admin fee", KeyQurbanAdminFeePrefix, animal))
		}
	}

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}
