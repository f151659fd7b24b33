package seckey

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrecon/internal/types"
)

func TestDeriveNiftyPut(t *testing.T) {
	key, err := Derive("NIFTY", "30-12-2025", "PE", "19500.0", "NSE")
	require.NoError(t, err)
	assert.Equal(t, "NSENIFTY20251230P19500", key)
}

func TestDeriveKeyStableAcrossDateFormats(t *testing.T) {
	expiries := []any{
		"30-12-2025",
		"30/12/2025",
		"30DEC25",
		"30Dec25",
		"30-Dec-2025",
		"30-dec-25",
		"2025-12-30",
		"20251230",
		"46021",
		time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC),
		types.DateCell(time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC)),
		types.TextCell(" 30/12/2025 "),
	}
	want := "NSEBANKNIFTY20251230C52000"
	for _, exp := range expiries {
		key, err := Derive("banknifty", exp, "CE", "52,000", "NSE")
		require.NoError(t, err, "%v", exp)
		assert.Equal(t, want, key, "%v", exp)
	}
}

func TestDeriveFuturesStrikeZeroing(t *testing.T) {
	for _, ot := range []string{"", "F", "FF", " f ", "ff"} {
		key, err := Derive("CRUDEOIL", "18-11-2025", ot, "6123.5", "MCX")
		require.NoError(t, err, ot)
		assert.Equal(t, "MCXCRUDEOIL20251118F0", key, "option type %q", ot)
	}

	// garbage strike must not matter for futures
	key, err := Derive("CRUDEOIL", "18-11-2025", "FF", "n/a", "MCX")
	require.NoError(t, err)
	assert.Equal(t, "MCXCRUDEOIL20251118F0", key)
}

func TestDeriveStrikeTruncates(t *testing.T) {
	key, err := Derive("NIFTY", "30-12-2025", "CE", "19500.9", "NSE")
	require.NoError(t, err)
	assert.Equal(t, "NSENIFTY20251230C19500", key)
}

func TestDeriveErrors(t *testing.T) {
	tests := []struct {
		name       string
		underlying string
		expiry     any
		optionType string
		strike     any
		reason     string
	}{
		{"bad date", "NIFTY", "not-a-date", "PE", "100", ReasonBadExpiry},
		{"blank date", "NIFTY", "", "PE", "100", ReasonBadExpiry},
		{"zero time", "NIFTY", time.Time{}, "PE", "100", ReasonBadExpiry},
		{"bad strike", "NIFTY", "30-12-2025", "CE", "abc", ReasonBadStrike},
		{"blank option strike", "NIFTY", "30-12-2025", "PE", "", ReasonBadStrike},
		{"nil option strike", "NIFTY", "30-12-2025", "CE", nil, ReasonBadStrike},
		{"blank strike cell", "NIFTY", "30-12-2025", "PE", types.TextCell("  "), ReasonBadStrike},
		{"no underlying", " ", "30-12-2025", "CE", "100", ReasonMissingUnderlying},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := Derive(tt.underlying, tt.expiry, tt.optionType, tt.strike, "NSE")
			assert.Empty(t, key)
			var kde *KeyDerivationError
			require.True(t, errors.As(err, &kde), "expected KeyDerivationError, got %v", err)
			assert.Equal(t, tt.reason, kde.Reason)
		})
	}
}

func TestSplitRoundTrip(t *testing.T) {
	key, err := Derive("NIFTY", "30DEC25", "PE", 69000, "NSE")
	require.NoError(t, err)
	assert.Equal(t, "NSENIFTY20251230P69000", key)

	c, err := Split(key)
	require.NoError(t, err)
	assert.Equal(t, "NSE", c.Prefix)
	assert.Equal(t, "NIFTY", c.Underlying)
	assert.Equal(t, "20251230", c.Expiry.Format("20060102"))
	assert.Equal(t, "P", c.TypeChar)
	assert.Equal(t, int64(69000), c.Strike)

	_, err = Split("RELIANCE")
	assert.Error(t, err)
}

func TestExcelSerialWindow(t *testing.T) {
	d, ok := ExcelSerial("46021")
	require.True(t, ok)
	assert.Equal(t, "20251230", d.Format("20060102"))

	for _, s := range []string{"20251230", "100", "-46021", "abc", ""} {
		_, ok := ExcelSerial(s)
		assert.False(t, ok, s)
	}
}

func TestPrefixForSegment(t *testing.T) {
	assert.Equal(t, "NSE", PrefixForSegment("NFO"))
	assert.Equal(t, "NSE", PrefixForSegment("fo"))
	assert.Equal(t, "MCX", PrefixForSegment("MCX"))
	assert.Equal(t, "MCX", PrefixForSegment("com"))
}
