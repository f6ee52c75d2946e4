package split

import (
	"errors"
	"fmt"
)

var (
	ErrConfigInvariantViolation = errors.New("config invariant violation")
	ErrInvalidTransaction       = errors.New("invalid transaction")
)

// Rules reported by ConfigInvariantViolation.
const (
	RulePercentRange  = "percent_range"
	RuleZakatAmilCap  = "zakat_amil_cap"
	RulePartySumCap   = "party_sum_exceeds_amil_cap"
	RuleNegativeNet   = "negative_amil_net"
	RuleUnknownAnimal = "unknown_animal_admin_fee"
)

// ConfigInvariantViolation means the snapshot cannot produce a valid split.
// The calculation is refused rather than clamped.
type ConfigInvariantViolation struct {
	SnapshotVersion int64
	Rule            string
	Detail          string
}

func (e *ConfigInvariantViolation) Error() string {
	return fmt.Sprintf("config invariant violation (snapshot %d, %s): %s", e.SnapshotVersion, e.Rule, e.Detail)
}

func (e *ConfigInvariantViolation) Is(target error) bool {
	return target == ErrConfigInvariantViolation
}

func violation(version int64, rule, format string, args ...any) error {
	return &ConfigInvariantViolation{SnapshotVersion: version, Rule: rule, Detail: fmt.Sprintf(format, args...)}
}
