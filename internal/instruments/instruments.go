// Package instruments indexes the Kite instrument dump so trade files that
// only carry a trading symbol (NIFTY25DEC19500PE) can be keyed.
package instruments

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"fundrecon/internal/types"
)

// Master is an in-memory instrument index keyed by exchange trading symbol.
type Master struct {
	bySymbol map[string]kiteconnect.Instrument
}

// Parse reads the instruments CSV as served by the Kite API.
func Parse(r io.Reader) (*Master, error) {
	var list kiteconnect.Instruments
	if err := gocsv.Unmarshal(r, &list); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}
	return New(list), nil
}

func Load(path string) (*Master, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open instruments %s: %w", path, err)
	}
	return Parse(bytes.NewReader(b))
}

func New(list kiteconnect.Instruments) *Master {
	m := &Master{bySymbol: make(map[string]kiteconnect.Instrument, len(list))}
	for _, inst := range list {
		m.bySymbol[normalize(inst.Tradingsymbol)] = inst
	}
	return m
}

func (m *Master) Len() int { return len(m.bySymbol) }

func (m *Master) Lookup(tradingsymbol string) (kiteconnect.Instrument, bool) {
	inst, ok := m.bySymbol[normalize(tradingsymbol)]
	return inst, ok
}

// Components is what the security key needs from an instrument.
type Components struct {
	Underlying string
	Expiry     string
	OptionType string
	Strike     string
	Segment    string
}

// Components returns key inputs for a trading symbol. Futures report "F".
func (m *Master) Components(tradingsymbol string) (Components, bool) {
	inst, ok := m.Lookup(tradingsymbol)
	if !ok {
		return Components{}, false
	}
	c := Components{
		Underlying: strings.ToUpper(strings.TrimSpace(inst.Name)),
		OptionType: optionType(inst.InstrumentType),
		Strike:     strconv.FormatFloat(inst.StrikePrice, 'f', -1, 64),
		Segment:    inst.Exchange,
	}
	if !inst.Expiry.Time.IsZero() {
		c.Expiry = inst.Expiry.Time.Format("2006-01-02")
	}
	return c, true
}

func optionType(instrumentType string) string {
	switch t := strings.ToUpper(strings.TrimSpace(instrumentType)); t {
	case "FUT", "":
		return "F"
	default:
		return t
	}
}

// Enrich returns a copy of t with the canonical key columns filled from
// symbolColumn. Columns t already has (an LPA "Segment", say) are overwritten
// for known symbols and left alone otherwise; the rest are appended. Unknown
// symbols are returned so the caller can report them; key derivation then
// skips those rows.
func (m *Master) Enrich(t *types.Table, symbolColumn string) (*types.Table, []string, error) {
	if err := t.Require(symbolColumn); err != nil {
		return nil, nil, err
	}
	canonical := []string{types.ColUnderlying, types.ColExpiry, types.ColOptionType, types.ColStrike, types.ColSegment}
	cols := append([]string(nil), t.Columns...)
	pos := make(map[string]int, len(cols)+len(canonical))
	for i, c := range cols {
		pos[c] = i
	}
	for _, c := range canonical {
		if _, ok := pos[c]; !ok {
			pos[c] = len(cols)
			cols = append(cols, c)
		}
	}
	out := types.NewTable(t.Name, cols)

	var unknown []string
	seen := map[string]bool{}
	for _, row := range t.Rows {
		values := make([]types.Cell, len(cols))
		for i, c := range t.Columns {
			values[i], _ = row.Get(c)
		}
		sym := row.Text(symbolColumn)
		comp, ok := m.Components(sym)
		if !ok && !seen[sym] {
			seen[sym] = true
			unknown = append(unknown, sym)
		}
		for i, v := range []string{comp.Underlying, comp.Expiry, comp.OptionType, comp.Strike, comp.Segment} {
			p := pos[canonical[i]]
			if ok || p >= len(t.Columns) {
				values[p] = types.TextCell(v)
			}
		}
		out.Append(values, row.Line)
	}
	return out, unknown, nil
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
