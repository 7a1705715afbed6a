package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRoundHalfAwayFromZero(t *testing.T) {
	cases := map[string]string{
		"0.125":  "0.13",
		"0.124":  "0.12",
		"2.675":  "2.68",
		"-0.125": "-0.13",
		"15":     "15",
	}
	for in, want := range cases {
		got := Round(decimal.RequireFromString(in))
		require.True(t, got.Equal(decimal.RequireFromString(want)), "round(%s) = %s, want %s", in, got, want)
	}
}

func TestNonNegative(t *testing.T) {
	require.True(t, NonNegative(decimal.NewFromInt(-3)).IsZero())
	require.True(t, NonNegative(decimal.NewFromInt(3)).Equal(decimal.NewFromInt(3)))
}

func TestPercent(t *testing.T) {
	got := Percent(decimal.NewFromInt(100), decimal.NewFromInt(8))
	require.True(t, got.Equal(decimal.NewFromInt(8)))
}

func TestOptionalHelpers(t *testing.T) {
	zero := decimal.Zero
	five := decimal.NewFromInt(5)
	require.False(t, IsSet(nil))
	require.False(t, IsSet(&zero))
	require.True(t, IsSet(&five))
	require.True(t, FromPtr(nil).IsZero())
	require.True(t, FromPtr(&five).Equal(five))
}

func TestJSONAmountsAreNumbers(t *testing.T) {
	out, err := json.Marshal(struct {
		Amount decimal.Decimal `json:"amount"`
	}{Amount: decimal.RequireFromString("12.50")})
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":12.5}`, string(out))
}
