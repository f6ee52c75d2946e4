// Package money holds integer minor-unit amounts and exact percentages.
package money

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a quantity of currency in minor units (sen for IDR). It is never fractional.
type Amount int64

func (a Amount) Int64() int64 { return int64(a) }

func (a Amount) IsPositive() bool { return a > 0 }

func (a Amount) IsNegative() bool { return a < 0 }

func (a Amount) Neg() Amount { return -a }

// String renders the amount with dot thousands separators, e.g. "1.000.000".
func (a Amount) String() string {
	s := strconv.FormatInt(int64(a), 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Sum adds amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}

// Percent is an exact percentage value, where 12.5 means 12.5%.
type Percent struct {
	d decimal.Decimal
}

var (
	Zero    = Percent{d: decimal.Zero}
	Hundred = Percent{d: decimal.NewFromInt(100)}
)

// ParsePercent parses a decimal string such as "2.5" or "12.50".
func ParsePercent(s string) (Percent, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return Percent{}, fmt.Errorf("empty percentage")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Percent{}, fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	return Percent{d: d}, nil
}

// MustPercent is ParsePercent for constants and tests.
func MustPercent(s string) Percent {
	p, err := ParsePercent(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PercentFromBasisPoints builds a percentage from hundredths of a percent (1250 = 12.5%).
func PercentFromBasisPoints(bp int64) Percent {
	return Percent{d: decimal.New(bp, -2)}
}

func (p Percent) Decimal() decimal.Decimal { return p.d }

func (p Percent) Add(o Percent) Percent { return Percent{d: p.d.Add(o.d)} }

func (p Percent) Cmp(o Percent) int { return p.d.Cmp(o.d) }

func (p Percent) GreaterThan(o Percent) bool { return p.d.GreaterThan(o.d) }

func (p Percent) IsZero() bool { return p.d.IsZero() }

func (p Percent) IsNegative() bool { return p.d.IsNegative() }

// InRange reports whether 0 <= p <= 100.
func (p Percent) InRange() bool {
	return !p.d.IsNegative() && !p.d.GreaterThan(Hundred.d)
}

func (p Percent) String() string { return p.d.String() }

// ApplyFloor returns floor(a × p / 100). The product is computed exactly before flooring.
func (p Percent) ApplyFloor(a Amount) Amount {
	return Amount(decimal.NewFromInt(int64(a)).Mul(p.d).Shift(-2).Floor().IntPart())
}

func (p Percent) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.d.String())
}

func (p *Percent) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Accept bare JSON numbers too.
		s = string(b)
	}
	parsed, err := ParsePercent(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
