// Package seckey derives the canonical security code used to join trade,
// holding, position and price files:
//
//	{Prefix}{Underlying}{YYYYMMDD}{TypeChar}{StrikeInt}
//
// e.g. NSENIFTY20251230P19500 or MCXCRUDEOIL20251118F0.
package seckey

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"fundrecon/internal/numeric"
	"fundrecon/internal/types"
)

const (
	ReasonBadExpiry         = "bad_expiry"
	ReasonBadStrike         = "bad_strike"
	ReasonMissingUnderlying = "missing_underlying"
	ReasonMissingKey        = "missing_key"
)

// KeyDerivationError is returned when one row cannot be keyed. Callers skip
// the row and count Reason.
type KeyDerivationError struct {
	Reason string
	Field  string
	Value  string
}

func (e *KeyDerivationError) Error() string {
	return fmt.Sprintf("security key: %s (%s=%q)", e.Reason, e.Field, e.Value)
}

// Day-first layouts only. Indian exchange and custodian files never carry
// month-first dates.
var expiryLayouts = []string{
	"02-01-2006",
	"2-1-2006",
	"02/01/2006",
	"2/1/2006",
	"02Jan06",
	"2Jan06",
	"02Jan2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"02-Jan-06",
	"02 Jan 2006",
	"02/Jan/2006",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"20060102",
}

// ParseExpiry normalizes the accepted expiry representations to a date.
func ParseExpiry(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, badExpiry("")
		}
		return t, nil
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, badExpiry("")
		}
		return *t, nil
	case types.Cell:
		if t.Kind == types.CellDate && !t.Time.IsZero() {
			return t.Time, nil
		}
		return parseExpiryString(t.Text)
	case string:
		return parseExpiryString(t)
	case nil:
		return time.Time{}, badExpiry("")
	default:
		return parseExpiryString(fmt.Sprintf("%v", t))
	}
}

func parseExpiryString(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, badExpiry(raw)
	}
	// Month abbreviations arrive in any case ("30DEC25", "30-dec-2025").
	norm := normalizeMonth(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, norm); err == nil {
			return t, nil
		}
	}
	if t, ok := ExcelSerial(s); ok {
		return t, nil
	}
	return time.Time{}, badExpiry(raw)
}

var monthRe = regexp.MustCompile(`(?i)(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)`)

func normalizeMonth(s string) string {
	return monthRe.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ToUpper(m[:1]) + strings.ToLower(m[1:])
	})
}

// ExcelSerial accepts raw XLSX date serials (e.g. "46021"). Plain integers
// outside a plausible contract window are rejected so that "20251230" style
// values never reach here by accident.
func ExcelSerial(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 20000 || f > 80000 {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func badExpiry(v string) error {
	return &KeyDerivationError{Reason: ReasonBadExpiry, Field: "expiry", Value: v}
}

// IsFutures reports whether the option type marks a no-strike contract.
func IsFutures(optionType string) bool {
	switch strings.ToUpper(strings.TrimSpace(optionType)) {
	case "", "F", "FF":
		return true
	}
	return false
}

// TypeChar is the single-letter discriminator written into the key.
func TypeChar(optionType string) string {
	ot := strings.ToUpper(strings.TrimSpace(optionType))
	if ot == "" {
		return "F"
	}
	return ot[:1]
}

// StrikeInt truncates the strike toward zero. Downstream systems expect
// integer strikes, so 19500.9 is 19500, not 19501.
// A blank strike is an error: options always carry one.
func StrikeInt(v any) (int64, error) {
	var raw string
	switch t := v.(type) {
	case nil:
	case types.Cell:
		raw = t.Text
	default:
		raw = fmt.Sprintf("%v", v)
	}
	c := numeric.Clean(raw)
	if c == "" || c == "-" {
		return 0, &KeyDerivationError{Reason: ReasonBadStrike, Field: "strike", Value: raw}
	}
	d, ok := numeric.Parse(v)
	if !ok {
		return 0, &KeyDerivationError{Reason: ReasonBadStrike, Field: "strike", Value: raw}
	}
	return d.IntPart(), nil
}

// Derive builds the security key. Futures (blank, F or FF option type) always
// get strike 0 whatever the strike field holds.
func Derive(underlying string, expiry any, optionType string, strike any, prefix string) (string, error) {
	u := strings.ToUpper(strings.TrimSpace(underlying))
	if u == "" {
		return "", &KeyDerivationError{Reason: ReasonMissingUnderlying, Field: "underlying", Value: underlying}
	}
	exp, err := ParseExpiry(expiry)
	if err != nil {
		return "", err
	}

	var k int64
	if !IsFutures(optionType) {
		k, err = StrikeInt(strike)
		if err != nil {
			return "", err
		}
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(strings.TrimSpace(prefix)))
	b.WriteString(u)
	b.WriteString(exp.Format("20060102"))
	b.WriteString(TypeChar(optionType))
	b.WriteString(strconv.FormatInt(k, 10))
	return b.String(), nil
}

// PrefixForSegment maps a file's segment/exchange marker to the key prefix.
func PrefixForSegment(segment string) string {
	switch strings.ToUpper(strings.TrimSpace(segment)) {
	case "MCX", "COM", "MCX-FO", "MCXFO", "MCX_FO", "MCXCOMM":
		return "MCX"
	case "", "FO", "NFO", "NSE", "NSEFO", "NSE-FO", "NSE_FO", "FNO", "NSE_FNO":
		return "NSE"
	}
	return strings.ToUpper(strings.TrimSpace(segment))
}

// Components is the decoded form of a key.
type Components struct {
	Prefix     string
	Underlying string
	Expiry     time.Time
	TypeChar   string
	Strike     int64
}

var keyRe = regexp.MustCompile(`^(NSE|MCX|BSE)([A-Z0-9&\-_.]+?)(\d{8})([A-Z])(-?\d+)$`)

// Split parses a key produced by Derive.
func Split(key string) (Components, error) {
	m := keyRe.FindStringSubmatch(strings.TrimSpace(key))
	if m == nil {
		return Components{}, fmt.Errorf("not a security key: %q", key)
	}
	exp, err := time.Parse("20060102", m[3])
	if err != nil {
		return Components{}, fmt.Errorf("security key %q: %w", key, err)
	}
	strike, _ := strconv.ParseInt(m[5], 10, 64)
	return Components{Prefix: m[1], Underlying: m[2], Expiry: exp, TypeChar: m[4], Strike: strike}, nil
}

// Columns names the row columns a key is derived from.
type Columns struct {
	Underlying string
	Expiry     string
	OptionType string
	Strike     string
	// Prefix is the exchange prefix ("NSE", "MCX"). When SegmentColumn is set
	// and non-blank on a row it wins via PrefixForSegment.
	Prefix        string
	SegmentColumn string
}

// Names lists the columns a table must carry. SegmentColumn is optional.
func (c Columns) Names() []string {
	return []string{c.Underlying, c.Expiry, c.OptionType, c.Strike}
}

// Canonical names the key columns written by the bhavcopy parser and by
// instrument-master enrichment.
func Canonical(prefix string) Columns {
	return Columns{
		Underlying:    types.ColUnderlying,
		Expiry:        types.ColExpiry,
		OptionType:    types.ColOptionType,
		Strike:        types.ColStrike,
		Prefix:        prefix,
		SegmentColumn: types.ColSegment,
	}
}

// For picks the columns to key t with: c when t carries them, otherwise the
// canonical set when t has been enriched with it. A table with neither gets c
// back so the caller reports c's missing columns.
func (c Columns) For(t *types.Table) Columns {
	if t == nil || t.Require(c.Names()...) == nil {
		return c
	}
	canon := Canonical(c.Prefix)
	if t.Require(canon.Names()...) == nil {
		return canon
	}
	return c
}

// FromRow derives the key for one row.
func (c Columns) FromRow(row types.Row) (string, error) {
	prefix := c.Prefix
	if c.SegmentColumn != "" {
		if seg := row.Text(c.SegmentColumn); seg != "" {
			prefix = PrefixForSegment(seg)
		}
	}
	expiry, _ := row.Get(c.Expiry)
	var strike any
	if c.Strike != "" {
		strike, _ = row.Get(c.Strike)
	}
	var optionType string
	if c.OptionType != "" {
		optionType = row.Text(c.OptionType)
	}
	return Derive(row.Text(c.Underlying), expiry, optionType, strike, prefix)
}
