package recon

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fundrecon/internal/logger"
	"fundrecon/internal/numeric"
	"fundrecon/internal/refdata"
	"fundrecon/internal/seckey"
	"fundrecon/internal/types"
)

// Entry is the aggregated value for one composite key.
type Entry struct {
	Key      string
	Identity string
	// RawIdentity is the identity as read, before mapping.
	RawIdentity string
	// Resolved is false when the identity map had no entry for RawIdentity.
	Resolved bool
	Value    decimal.Decimal
	Rows     int
	Sources  []string
}

// Index maps composite keys to aggregated entries, remembering first-seen
// order.
type Index struct {
	Label string
	agg   Aggregation
	byKey map[string]*Entry
	order []string
}

func NewIndex(label string, agg Aggregation) *Index {
	return &Index{Label: label, agg: agg, byKey: map[string]*Entry{}}
}

// Composite joins a security key and identity as "{key}_{identity}". An
// empty identity leaves the key as is.
func Composite(key, identity string) string {
	if identity == "" {
		return key
	}
	return key + "_" + identity
}

func (ix *Index) Len() int { return len(ix.order) }

func (ix *Index) Get(composite string) (*Entry, bool) {
	e, ok := ix.byKey[composite]
	return e, ok
}

// Keys returns composite keys in first-seen order.
func (ix *Index) Keys() []string {
	return append([]string(nil), ix.order...)
}

// Identities returns the distinct identities holding a security key, sorted.
func (ix *Index) Identities(key string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range ix.order {
		e := ix.byKey[c]
		if e.Key == key && !seen[e.Identity] {
			seen[e.Identity] = true
			out = append(out, e.Identity)
		}
	}
	sort.Strings(out)
	return out
}

// Add folds one value into the index using its aggregation.
func (ix *Index) Add(key, identity string, value decimal.Decimal, source string) *Entry {
	c := Composite(key, identity)
	e, ok := ix.byKey[c]
	if !ok {
		e = &Entry{Key: key, Identity: identity, Resolved: true}
		ix.byKey[c] = e
		ix.order = append(ix.order, c)
	}
	if ix.agg == AggLast {
		e.Value = value
	} else {
		e.Value = e.Value.Add(value)
	}
	e.Rows++
	if source != "" && !contains(e.Sources, source) {
		e.Sources = append(e.Sources, source)
	}
	return e
}

// Merge folds other into ix in other's order.
func (ix *Index) Merge(other *Index) {
	for _, c := range other.order {
		o := other.byKey[c]
		e := ix.Add(o.Key, o.Identity, o.Value, "")
		e.Rows += o.Rows - 1
		e.Resolved = e.Resolved && o.Resolved
		if e.RawIdentity == "" {
			e.RawIdentity = o.RawIdentity
		}
		for _, s := range o.Sources {
			if !contains(e.Sources, s) {
				e.Sources = append(e.Sources, s)
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// IdentityFallback supplies an identity when the identity map has no entry.
type IdentityFallback func(key string) (string, bool)

// BuildIndex derives a key for every row of t and aggregates ValueColumn per
// composite key. Missing columns fail the whole table with *types.SchemaError;
// a row whose key cannot be derived is skipped and counted in summary.
func BuildIndex(ctx context.Context, t *types.Table, spec SourceSpec, res *refdata.Resolver, summary *types.RunSummary, precision int) (*Index, error) {
	return buildIndex(ctx, t, spec, res, summary, precision, nil)
}

func buildIndex(ctx context.Context, t *types.Table, spec SourceSpec, res *refdata.Resolver, summary *types.RunSummary, precision int, fallback IdentityFallback) (*Index, error) {
	spec = spec.forTable(t)
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if err := t.Require(spec.Required()...); err != nil {
		return nil, err
	}
	if res == nil {
		res = refdata.NewResolver(nil)
	}
	scoped := res.Scoped(summary)
	counter := numeric.NewCounter(summary, precision)

	label := spec.Label
	if label == "" {
		label = t.Name
	}
	ix := NewIndex(label, spec.Aggregation)

rows:
	for _, row := range t.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, f := range spec.Filters {
			if !f.keep(row) {
				continue rows
			}
		}

		key, err := spec.key(row)
		if err != nil {
			reason := "unknown"
			var kde *seckey.KeyDerivationError
			if errors.As(err, &kde) {
				reason = kde.Reason
			}
			summary.Skip(reason)
			logger.SkippedRow(ctx, t.Name, row.Line, reason, err)
			continue
		}

		raw, identity, resolved := "", "", true
		if spec.IdentityColumn != "" {
			raw = row.Text(spec.IdentityColumn)
			identity = raw
			if spec.IdentityMap != "" {
				identity, resolved = resolveIdentity(scoped, spec, raw, key, fallback)
			}
		}

		cell, _ := row.Get(spec.ValueColumn)
		value := counter.Decimal(spec.ValueColumn, cell)
		if spec.isSell(row) {
			value = value.Neg()
		}

		e := ix.Add(key, identity, value, label)
		if e.RawIdentity == "" {
			e.RawIdentity = raw
		}
		e.Resolved = e.Resolved && resolved
	}
	return ix, nil
}

// resolveIdentity maps raw through spec.IdentityMap. A value that is already
// the mapped name of exactly one code is kept as is. Only when the map, the
// fallback and the reverse check all fail is a miss counted and the policy
// applied.
func resolveIdentity(res *refdata.Resolver, spec SourceSpec, raw, key string, fallback IdentityFallback) (string, bool) {
	if v, ok := res.Lookup(spec.IdentityMap, raw); ok {
		return v, true
	}
	if fallback != nil {
		if fb, ok := fallback(key); ok {
			return fb, false
		}
	}
	if _, ok := res.Reverse(spec.IdentityMap, raw); ok {
		return strings.TrimSpace(raw), true
	}
	return spec.IdentityPolicy.Apply(strings.TrimSpace(raw)), false
}
