package money

import (
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRevShare_Money_ApplyFloor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		percent string
		amount  Amount
		want    Amount
	}{
		{"twenty percent", "20", 1_000_000, 200_000},
		{"fractional percent", "2.5", 1_000_000, 25_000},
		{"zakat cap", "12.5", 1_000_001, 125_000},
		{"floors remainder", "3", 333, 9},
		{"tiny amount", "2.5", 39, 0},
		{"zero percent", "0", 1_000_000, 0},
		{"hundred percent", "100", 4_500_000, 4_500_000},
		{"non-terminating ratio", "33.333", 100, 33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, MustPercent(tt.percent).ApplyFloor(tt.amount))
		})
	}
}

func TestRevShare_Money_ApplyFloor_NeverExceedsExactProduct(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	for range 2000 {
		amount := Amount(rng.Int64N(10_000_000_000))
		bp := rng.Int64N(10_001)
		got := PercentFromBasisPoints(bp).ApplyFloor(amount)

		// amount*bp fits in int64 for these ranges.
		exact := int64(amount) * bp
		require.LessOrEqual(t, int64(got)*10_000, exact)
		require.Greater(t, (int64(got)+1)*10_000, exact)
	}
}

func TestRevShare_Money_ParsePercent(t *testing.T) {
	t.Parallel()

	p, err := ParsePercent(" 12.5% ")
	require.NoError(t, err)
	require.Equal(t, "12.5", p.String())
	require.True(t, p.InRange())

	_, err = ParsePercent("")
	require.Error(t, err)
	_, err = ParsePercent("abc")
	require.Error(t, err)

	require.False(t, MustPercent("-1").InRange())
	require.False(t, MustPercent("100.01").InRange())
	require.True(t, MustPercent("100").InRange())
}

func TestRevShare_Money_PercentJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(MustPercent("2.5"))
	require.NoError(t, err)
	require.JSONEq(t, `"2.5"`, string(b))

	var p Percent
	require.NoError(t, json.Unmarshal([]byte(`3`), &p))
	require.Equal(t, 0, p.Cmp(MustPercent("3")))
	require.NoError(t, json.Unmarshal([]byte(`"12.5"`), &p))
	require.Equal(t, 0, p.Cmp(MustPercent("12.5")))
}

func TestRevShare_Money_AmountString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0", Amount(0).String())
	require.Equal(t, "500", Amount(500).String())
	require.Equal(t, "1.000.000", Amount(1_000_000).String())
	require.Equal(t, "12.345", Amount(12_345).String())
	require.Equal(t, "-300.000", Amount(-300_000).String())
	require.Equal(t, Amount(6), Sum(1, 2, 3))
}
