package numeric

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fundrecon/internal/types"
)

func TestToDecimal(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"thousands separator", "1,234.50", "1234.5"},
		{"blank", "", "0"},
		{"whitespace", "   ", "0"},
		{"garbage", "abc", "0"},
		{"nil", nil, "0"},
		{"negative", "-40", "-40"},
		{"accounting negative", "(1,000.25)", "-1000.25"},
		{"float", 10.5, "10.5"},
		{"int", 100, "100"},
		{"json number", json.Number("0.1"), "0.1"},
		{"cell", types.TextCell(" 2,500 "), "2500"},
		{"dash", "-", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToDecimal(tt.in, DefaultPrecision)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestToDecimalNeverPanics(t *testing.T) {
	inputs := []string{"1e", "..", "1.2.3", "--5", "NaN", "Inf", "1,,2", "\x00", "९९"}
	for _, in := range inputs {
		assert.NotPanics(t, func() { ToDecimal(in, DefaultPrecision) }, in)
	}
}

func TestHugeExponentIsMalformed(t *testing.T) {
	for _, in := range []string{"1e-20000000", "1e20000000", "5E-65"} {
		start := time.Now()
		d, ok := Parse(in)
		assert.False(t, ok, in)
		assert.True(t, d.IsZero(), in)
		assert.True(t, ToDecimal(in, DefaultPrecision).IsZero(), in)
		assert.Less(t, time.Since(start), time.Second, in)
	}

	d, ok := Parse("1.5e3")
	assert.True(t, ok)
	assert.Equal(t, "1500", d.String())
}

func TestToDecimalPrecision(t *testing.T) {
	got := ToDecimal("1.23456789", 4)
	assert.Equal(t, "1.2346", got.String())
}

func TestParseReportsMalformed(t *testing.T) {
	_, ok := Parse("")
	assert.True(t, ok, "blank is not malformed")

	_, ok = Parse("12x")
	assert.False(t, ok)
}

func TestCounterCountsZeroedValues(t *testing.T) {
	s := types.NewRunSummary()
	c := NewCounter(s, 0)

	assert.True(t, c.Decimal("Qty", "abc").IsZero())
	assert.True(t, c.Decimal("Qty", "").IsZero())
	assert.Equal(t, "5", c.Decimal("Qty", "5").String())

	assert.Equal(t, 1, s.Zeroed["Qty"])
	assert.Equal(t, 1, s.TotalZeroed())
}
