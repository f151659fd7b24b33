// Package numeric turns quantity and price fields from dirty source files into
// exact decimals. Nothing here returns an error: bad input becomes zero and the
// caller is told so it can count it.
package numeric

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fundrecon/internal/types"
)

const DefaultPrecision = 15

// maxExponent bounds the decimal exponent accepted from text. Rounding a value
// like "1e-20000000" allocates a power of ten that large.
const maxExponent = 64

// ToDecimal converts v to a decimal rounded to precision places. Blank, nil
// and unparsable values give zero.
func ToDecimal(v any, precision int) decimal.Decimal {
	d, _ := Parse(v)
	if precision < 0 {
		precision = DefaultPrecision
	}
	return d.Round(int32(precision))
}

// Parse reports ok=false only when v carried text that is not a number.
// Blank input is zero and ok.
func Parse(v any) (d decimal.Decimal, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d, ok = decimal.Zero, false
		}
	}()

	switch t := v.(type) {
	case nil:
		return decimal.Zero, true
	case decimal.Decimal:
		return t, true
	case *decimal.Decimal:
		if t == nil {
			return decimal.Zero, true
		}
		return *t, true
	case types.Cell:
		return parseString(t.Text)
	case string:
		return parseString(t)
	case json.Number:
		return parseString(t.String())
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int32:
		return decimal.NewFromInt32(t), true
	case int64:
		return decimal.NewFromInt(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case float64:
		return decimal.NewFromFloat(t), true
	default:
		return parseString(fmt.Sprintf("%v", t))
	}
}

func parseString(s string) (decimal.Decimal, bool) {
	clean := Clean(s)
	if clean == "" || clean == "-" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, false
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return decimal.Zero, false
	}
	return d, true
}

// Clean strips thousands separators, surrounding whitespace and a trailing
// accounting-style wrap "(123.00)" → "-123.00".
func Clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if len(s) > 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = "-" + s[1:len(s)-1]
	}
	return s
}

// Counter wraps Parse and records malformed values per column in a summary.
type Counter struct {
	Summary   *types.RunSummary
	Precision int
}

func NewCounter(summary *types.RunSummary, precision int) *Counter {
	return &Counter{Summary: summary, Precision: precision}
}

func (c *Counter) Decimal(column string, v any) decimal.Decimal {
	d, ok := Parse(v)
	if !ok && c.Summary != nil {
		c.Summary.Zero(column)
	}
	p := c.Precision
	if p <= 0 {
		p = DefaultPrecision
	}
	return d.Round(int32(p))
}
