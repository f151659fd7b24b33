// Package projection reshapes source rows into fixed-schema loader records.
// A record starts as the loader template's defaults and each field rule
// overwrites one field with a value computed from the row.
package projection

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"fundrecon/internal/logger"
	"fundrecon/internal/numeric"
	"fundrecon/internal/refdata"
	"fundrecon/internal/seckey"
	"fundrecon/internal/types"
)

const (
	ReasonBadDate      = "bad_date"
	ReasonMissingValue = "missing_value"
)

// FieldError means one row could not fill a field. The row is skipped.
type FieldError struct {
	Field  string
	Reason string
	Value  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s (%q)", e.Field, e.Reason, e.Value)
}

// Env is what a rule may read besides the row itself.
type Env struct {
	// Key is the row's derived security key, empty if the loader has none.
	Key      string
	Resolver *refdata.Resolver
	Counter  *numeric.Counter
}

type ruleKind int

const (
	ruleColumn ruleKind = iota
	ruleKey
	ruleReference
	ruleDate
	ruleConst
	ruleFunc
)

// FieldRule computes one output field.
type FieldRule struct {
	kind     ruleKind
	column   string
	required bool
	mapName  string
	policy   refdata.Policy
	layout   string
	value    string
	fn       func(types.Row, Env) (string, error)
	columns  []string
}

// FromColumn copies a source column. A required column must exist in the
// table and be non-blank on the row.
func FromColumn(column string, required bool) FieldRule {
	return FieldRule{kind: ruleColumn, column: column, required: required}
}

// FromSecurityKey writes the row's derived security key.
func FromSecurityKey() FieldRule { return FieldRule{kind: ruleKey} }

// FromReference resolves a source column through a reference map.
func FromReference(mapName, column string, policy refdata.Policy) FieldRule {
	return FieldRule{kind: ruleReference, mapName: mapName, column: column, policy: policy, required: true}
}

// DateFromColumn parses a date column and formats it with layout.
func DateFromColumn(column, layout string, required bool) FieldRule {
	return FieldRule{kind: ruleDate, column: column, layout: layout, required: required}
}

func Const(v string) FieldRule { return FieldRule{kind: ruleConst, value: v} }

// Func runs fn. columns are the source columns fn needs; they are checked
// against the table like required columns.
func Func(fn func(types.Row, Env) (string, error), columns ...string) FieldRule {
	return FieldRule{kind: ruleFunc, fn: fn, columns: columns}
}

// Columns returns the table columns this rule needs to be present.
func (r FieldRule) Columns() []string {
	switch r.kind {
	case ruleColumn, ruleDate:
		if r.required {
			return []string{r.column}
		}
	case ruleReference:
		return []string{r.column}
	case ruleFunc:
		return r.columns
	}
	return nil
}

func (r FieldRule) apply(field string, row types.Row, env Env) (string, error) {
	switch r.kind {
	case ruleColumn:
		if !row.Has(r.column) {
			if r.required {
				return "", &types.SchemaError{Missing: []string{r.column}}
			}
			return "", nil
		}
		v := row.Text(r.column)
		if v == "" && r.required {
			return "", &FieldError{Field: field, Reason: ReasonMissingValue}
		}
		return v, nil
	case ruleKey:
		return env.Key, nil
	case ruleReference:
		if !row.Has(r.column) {
			return "", &types.SchemaError{Missing: []string{r.column}}
		}
		res := env.Resolver
		if res == nil {
			res = refdata.NewResolver(nil)
		}
		return res.Resolve(r.mapName, row.Text(r.column), r.policy), nil
	case ruleDate:
		cell, ok := row.Get(r.column)
		if !ok {
			if r.required {
				return "", &types.SchemaError{Missing: []string{r.column}}
			}
			return "", nil
		}
		if cell.IsBlank() {
			if r.required {
				return "", &FieldError{Field: field, Reason: ReasonMissingValue}
			}
			return "", nil
		}
		t, err := seckey.ParseExpiry(cell)
		if err != nil {
			return "", &FieldError{Field: field, Reason: ReasonBadDate, Value: cell.Text}
		}
		return t.Format(r.layout), nil
	case ruleConst:
		return r.value, nil
	case ruleFunc:
		return r.fn(row, env)
	}
	return "", nil
}

// Rules maps output field names to their computation. Fields without a rule
// keep the template default.
type Rules map[string]FieldRule

// Columns returns every source column the rules require, without duplicates.
func (rs Rules) Columns() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rs {
		for _, c := range r.Columns() {
			if c != "" && !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// Project builds one record with exactly tpl's fields in tpl's order.
func Project(row types.Row, tpl refdata.Template, rules Rules, env Env) (types.LoaderRecord, error) {
	rec := types.LoaderRecord{
		Fields: tpl.Names(),
		Values: make(map[string]string, len(tpl)),
	}
	for _, f := range tpl {
		rec.Values[f.Name] = f.Default
	}
	for _, f := range tpl {
		rule, ok := rules[f.Name]
		if !ok {
			continue
		}
		v, err := rule.apply(f.Name, row, env)
		if err != nil {
			return types.LoaderRecord{}, err
		}
		rec.Values[f.Name] = v
	}
	return rec, nil
}

// LoaderSpec is one loader type: its fixed header list, built-in defaults,
// how to key a row and how to fill computed fields.
type LoaderSpec struct {
	Name string
	// Template names the store template whose defaults override Defaults.
	Template string
	Headers  []string
	Defaults map[string]string
	Key      *seckey.Columns
	Rules    Rules
	// Skip drops rows before projection, e.g. subtotal lines.
	Skip func(types.Row) bool
}

// TemplateFrom returns the declared header list with defaults taken from the
// store template when it has the field, else from Defaults. Store template
// fields outside Headers are ignored.
func (s LoaderSpec) TemplateFrom(store *refdata.Store) refdata.Template {
	var stored map[string]string
	if store != nil && s.Template != "" {
		if t, ok := store.Template(s.Template); ok {
			stored = make(map[string]string, len(t))
			for _, f := range t {
				stored[f.Name] = f.Default
			}
		}
	}
	tpl := make(refdata.Template, len(s.Headers))
	for i, h := range s.Headers {
		d, ok := stored[h]
		if !ok {
			d = s.Defaults[h]
		}
		tpl[i] = refdata.TemplateField{Name: h, Default: d}
	}
	return tpl
}

// Required lists the columns a table must carry for this loader.
func (s LoaderSpec) Required() []string {
	var cols []string
	if s.Key != nil {
		cols = append(cols, s.Key.Names()...)
	}
	return append(cols, s.Rules.Columns()...)
}

type rowResult struct {
	rec     types.LoaderRecord
	err     error
	summary *types.RunSummary
	skipped bool
}

// ProjectAll projects every row of t on a bounded worker pool. Output keeps
// row order; rows that fail key derivation or a field rule are skipped and
// counted. A missing column is fatal. Tables enriched from the instrument
// master are keyed from the canonical columns.
func ProjectAll(ctx context.Context, t *types.Table, spec LoaderSpec, res *refdata.Resolver, precision, workers int) (*types.LoaderResult, error) {
	if spec.Key != nil {
		key := spec.Key.For(t)
		spec.Key = &key
	}
	if err := t.Require(spec.Required()...); err != nil {
		return nil, err
	}
	if res == nil {
		res = refdata.NewResolver(nil)
	}
	if workers <= 0 {
		workers = 1
	}
	tpl := spec.TemplateFrom(res.Store())

	results := make([]rowResult, len(t.Rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, row := range t.Rows {
		i, row := i, row
		if spec.Skip != nil && spec.Skip(row) {
			results[i].skipped = true
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = projectRow(row, tpl, spec, res, precision)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := types.NewRunSummary()
	out := make([]types.LoaderRecord, 0, len(t.Rows))
	for i, r := range results {
		if r.skipped {
			continue
		}
		summary.Merge(r.summary)
		if r.err != nil {
			var schemaErr *types.SchemaError
			if errors.As(r.err, &schemaErr) {
				schemaErr.Table = t.Name
				return nil, schemaErr
			}
			reason := skipReason(r.err)
			summary.Skip(reason)
			logger.SkippedRow(ctx, t.Name, t.Rows[i].Line, reason, r.err)
			continue
		}
		out = append(out, r.rec)
	}

	return &types.LoaderResult{
		Loader:  spec.Name,
		Headers: tpl.Names(),
		Records: out,
		Summary: summary,
	}, nil
}

func projectRow(row types.Row, tpl refdata.Template, spec LoaderSpec, res *refdata.Resolver, precision int) rowResult {
	summary := types.NewRunSummary()
	env := Env{
		Resolver: res.Scoped(summary),
		Counter:  numeric.NewCounter(summary, precision),
	}
	if spec.Key != nil {
		key, err := spec.Key.FromRow(row)
		if err != nil {
			return rowResult{err: err, summary: summary}
		}
		env.Key = key
	}
	rec, err := Project(row, tpl, spec.Rules, env)
	return rowResult{rec: rec, err: err, summary: summary}
}

func skipReason(err error) string {
	var kde *seckey.KeyDerivationError
	if errors.As(err, &kde) {
		return kde.Reason
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field + ":" + fe.Reason
	}
	return "unknown"
}
