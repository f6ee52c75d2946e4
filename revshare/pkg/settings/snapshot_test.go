package settings

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ziswaf/revshare/revshare/pkg/money"
)

func validKV() map[string]string {
	return map[string]string{
		KeyAmilZakat:                        "12.5",
		KeyAmilShodaqoh:                     "20",
		KeyDeveloper:                        "2.5",
		KeyFundraiser:                       "3",
		KeyMitraZakat:                       "5",
		KeyMitraShodaqoh:                    "10",
		KeyQurbanOwnerApp:                   "20",
		KeyQurbanAdminFeePrefix + "sapi":    "1000000",
		KeyQurbanAdminFeePrefix + "Kambing": "250000",
		"site_title":                        "ignored",
	}
}

func TestRevShare_Settings_Parse(t *testing.T) {
	t.Parallel()

	s, err := Parse(7, validKV())
	require.NoError(t, err)
	require.Equal(t, int64(7), s.Version)
	require.Equal(t, 0, s.AmilShodaqoh.Cmp(money.MustPercent("20")))
	require.Equal(t, 0, s.Developer.Cmp(money.MustPercent("2.5")))

	fee, ok := s.AdminFee(" SAPI ")
	require.True(t, ok)
	require.Equal(t, money.Amount(1_000_000), fee)
	fee, ok = s.AdminFee("kambing")
	require.True(t, ok)
	require.Equal(t, money.Amount(250_000), fee)
	require.Equal(t, []string{"kambing", "sapi"}, s.AnimalTypes())

	require.NoError(t, s.Validate())
}

func TestRevShare_Settings_Parse_RejectsMalformed(t *testing.T) {
	t.Parallel()

	kv := validKV()
	delete(kv, KeyDeveloper)
	kv[KeyFundraiser] = "three"
	kv[KeyQurbanAdminFeePrefix+"domba"] = "1.5"

	_, err := Parse(1, kv)
	require.ErrorIs(t, err, ErrInvalidSettings)
	require.ErrorContains(t, err, KeyDeveloper+": missing")
	require.ErrorContains(t, err, KeyFundraiser)
	require.ErrorContains(t, err, "qurban_admin_fee_domba")
}

func TestRevShare_Settings_KVRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := Parse(3, validKV())
	require.NoError(t, err)
	again, err := Parse(3, s.KV())
	require.NoError(t, err)
	require.Equal(t, s.KV(), again.KV())
}

func TestRevShare_Settings_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(kv map[string]string)
		wantErr string
	}{
		{"zakat above ceiling", func(kv map[string]string) { kv[KeyAmilZakat] = "13" }, "exceeds 12.5"},
		{"shodaqoh parties exceed cap", func(kv map[string]string) { kv[KeyMitraShodaqoh] = "15" }, "exceeds amil shodaqoh"},
		{"zakat parties exceed cap", func(kv map[string]string) { kv[KeyMitraZakat] = "8" }, "exceeds amil zakat"},
		{"negative percentage", func(kv map[string]string) { kv[KeyFundraiser] = "-1" }, "outside [0, 100]"},
		{"above hundred", func(kv map[string]string) { kv[KeyQurbanOwnerApp] = "101" }, "outside [0, 100]"},
		{"negative admin fee", func(kv map[string]string) { kv[KeyQurbanAdminFeePrefix+"sapi"] = "-5" }, "negative admin fee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kv := validKV()
			tt.mutate(kv)
			s, err := Parse(1, kv)
			require.NoError(t, err)
			err = s.Validate()
			require.ErrorIs(t, err, ErrInvalidSettings)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
