package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical columns written by the bhavcopy and instrument converters, so
// every derived table is keyed the same way.
const (
	ColUnderlying  = "UnderlyingCode"
	ColExpiry      = "ExpiryDate"
	ColOptionType  = "OptionType"
	ColStrike      = "StrikePrice"
	ColSegment     = "Segment"
	ColSettlePrice = "SettlePrice"
	ColClosePrice  = "ClosePrice"
	ColTradeDate   = "TradeDate"
)

type CellKind int

const (
	CellBlank CellKind = iota
	CellText
	CellNumber
	CellDate
)

// Cell keeps the source text of a value. Numeric-looking codes stay text so
// "07536" is never turned into 7536 before a lookup.
type Cell struct {
	Text string
	Kind CellKind
	Time time.Time
}

func TextCell(s string) Cell {
	s = strings.TrimSpace(s)
	if s == "" {
		return Cell{Kind: CellBlank}
	}
	return Cell{Text: s, Kind: CellText}
}

func DateCell(t time.Time) Cell {
	return Cell{Text: t.Format("2006-01-02"), Kind: CellDate, Time: t}
}

func (c Cell) IsBlank() bool {
	return c.Kind == CellBlank || strings.TrimSpace(c.Text) == ""
}

func (c Cell) String() string { return c.Text }

// Row is one record of a source table. Columns are looked up by exact header name.
type Row struct {
	index  map[string]int
	values []Cell
	Line   int
}

func NewRow(columns []string, values []Cell, line int) Row {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := idx[c]; !dup {
			idx[c] = i
		}
	}
	return Row{index: idx, values: values, Line: line}
}

// RowFromMap builds a row from a column→text map, mostly for tests and
// in-memory sources. Column order follows cols.
func RowFromMap(cols []string, m map[string]string) Row {
	values := make([]Cell, len(cols))
	for i, c := range cols {
		values[i] = TextCell(m[c])
	}
	return NewRow(cols, values, 0)
}

func (r Row) Get(col string) (Cell, bool) {
	i, ok := r.index[col]
	if !ok {
		return Cell{}, false
	}
	if i >= len(r.values) {
		return Cell{Kind: CellBlank}, true
	}
	return r.values[i], true
}

func (r Row) Text(col string) string {
	c, _ := r.Get(col)
	return c.Text
}

func (r Row) Has(col string) bool {
	_, ok := r.index[col]
	return ok
}

type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

func NewTable(name string, columns []string) *Table {
	return &Table{Name: name, Columns: columns}
}

func (t *Table) Append(values []Cell, line int) {
	t.Rows = append(t.Rows, NewRow(t.Columns, values, line))
}

// AppendMap appends a row given as column→text.
func (t *Table) AppendMap(m map[string]string) {
	values := make([]Cell, len(t.Columns))
	for i, c := range t.Columns {
		values[i] = TextCell(m[c])
	}
	t.Append(values, len(t.Rows)+1)
}

func (t *Table) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Require returns a *SchemaError naming every column in cols absent from t.
func (t *Table) Require(cols ...string) error {
	var missing []string
	seen := map[string]bool{}
	for _, c := range cols {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Table: t.Name, Missing: missing}
	}
	return nil
}

// SchemaError means a whole table lacks required columns. Processing that
// table must stop since partial columns give wrong money totals.
type SchemaError struct {
	Table   string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("table %q is missing required columns: %s", e.Table, strings.Join(e.Missing, ", "))
}

type MatchStatus string

const (
	StatusMatched    MatchStatus = "MATCHED"
	StatusSourceOnly MatchStatus = "SOURCE_ONLY"
	StatusTargetOnly MatchStatus = "TARGET_ONLY"
)

type MatchedRecord struct {
	Key        string          `json:"key"`
	Identity   string          `json:"identity,omitempty"`
	SideA      decimal.Decimal `json:"side_a"`
	SideB      decimal.Decimal `json:"side_b"`
	Difference decimal.Decimal `json:"difference"`
	Status     MatchStatus     `json:"status"`
	// Ledger names the sub-ledger(s) that fed side B in a three-way run.
	Ledger string `json:"ledger,omitempty"`
}

type LoaderRecord struct {
	Fields []string
	Values map[string]string
}

func (l LoaderRecord) Get(field string) string { return l.Values[field] }

// Slice returns the values in header order.
func (l LoaderRecord) Slice() []string {
	out := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		out[i] = l.Values[f]
	}
	return out
}

// RunSummary collects row- and value-level problems that did not abort a run.
type RunSummary struct {
	Skipped     int            `json:"skipped"`
	SkipReasons map[string]int `json:"skip_reasons,omitempty"`
	Misses      map[string]int `json:"resolution_misses,omitempty"`
	Zeroed      map[string]int `json:"zeroed_values,omitempty"`
}

func NewRunSummary() *RunSummary {
	return &RunSummary{
		SkipReasons: map[string]int{},
		Misses:      map[string]int{},
		Zeroed:      map[string]int{},
	}
}

func (s *RunSummary) Skip(reason string) {
	s.Skipped++
	s.SkipReasons[reason]++
}

func (s *RunSummary) Miss(mapName string) { s.Misses[mapName]++ }

func (s *RunSummary) Zero(column string) { s.Zeroed[column]++ }

func (s *RunSummary) TotalMisses() int { return sum(s.Misses) }

func (s *RunSummary) TotalZeroed() int { return sum(s.Zeroed) }

// Merge adds the counters of o into s.
func (s *RunSummary) Merge(o *RunSummary) {
	if o == nil {
		return
	}
	s.Skipped += o.Skipped
	for k, v := range o.SkipReasons {
		s.SkipReasons[k] += v
	}
	for k, v := range o.Misses {
		s.Misses[k] += v
	}
	for k, v := range o.Zeroed {
		s.Zeroed[k] += v
	}
}

// Reasons renders skip reasons as "reason=count" sorted by reason.
func (s *RunSummary) Reasons() []string {
	keys := make([]string, 0, len(s.SkipReasons))
	for k := range s.SkipReasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%d", k, s.SkipReasons[k]))
	}
	return out
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

type ReconResult struct {
	Report   string          `json:"report"`
	SignNote string          `json:"sign_note"`
	Fields   []string        `json:"fields"`
	Records  []MatchedRecord `json:"records"`
	Summary  *RunSummary     `json:"summary"`
	Stages   []string        `json:"stages"`
}

type LoaderResult struct {
	Loader  string         `json:"loader"`
	Headers []string       `json:"headers"`
	Records []LoaderRecord `json:"records"`
	Summary *RunSummary    `json:"summary"`
}

// JobReport is what one configured job produced.
type JobReport struct {
	Job     string      `json:"job"`
	Kind    string      `json:"kind"`
	Preset  string      `json:"preset"`
	Output  string      `json:"output,omitempty"`
	Records int         `json:"records"`
	Summary *RunSummary `json:"summary,omitempty"`
	Stages  []string    `json:"stages,omitempty"`
	Error   string      `json:"error,omitempty"`
}
