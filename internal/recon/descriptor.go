// Package recon matches two (or three) independently sourced tables on the
// security key, optionally composed with a resolved portfolio identity, and
// computes exact decimal differences. Every report type is one Descriptor
// run through the same engine.
package recon

import (
	"errors"
	"fmt"
	"strings"

	"fundrecon/internal/refdata"
	"fundrecon/internal/seckey"
	"fundrecon/internal/types"
)

// Aggregation decides how rows sharing a key combine.
type Aggregation int

const (
	// AggSum adds values: quantities are incremental lots.
	AggSum Aggregation = iota
	// AggLast keeps the last value in file order: prices are point-in-time marks.
	AggLast
)

func (a Aggregation) String() string {
	if a == AggLast {
		return "last"
	}
	return "sum"
}

// KeyParts names the columns a security key is derived from when the table
// does not already carry one.
type KeyParts = seckey.Columns

// Filter keeps (or with Exclude drops) rows whose Column equals one of Values,
// compared trimmed and case-insensitive.
type Filter struct {
	Column  string
	Values  []string
	Exclude bool
}

func (f Filter) keep(row types.Row) bool {
	v := strings.TrimSpace(row.Text(f.Column))
	hit := false
	for _, want := range f.Values {
		if strings.EqualFold(v, strings.TrimSpace(want)) {
			hit = true
			break
		}
	}
	return hit != f.Exclude
}

// SourceSpec describes how one table feeds one side of a reconciliation.
type SourceSpec struct {
	Label string

	// Either KeyColumn (a precomputed key) or Parts must be set.
	KeyColumn string
	Parts     *KeyParts

	// IdentityColumn composes the key with a portfolio identity as
	// "{key}_{identity}". IdentityMap resolves the raw value first.
	IdentityColumn string
	IdentityMap    string
	IdentityPolicy refdata.Policy

	ValueColumn string
	// SideColumn/SellValues negate sell rows so buy and sell lines net.
	SideColumn  string
	SellValues  []string
	Aggregation Aggregation

	Filters []Filter
}

// Required lists every column this source reads. A table lacking any of them
// cannot be reconciled.
func (s SourceSpec) Required() []string {
	var cols []string
	if s.KeyColumn != "" {
		cols = append(cols, s.KeyColumn)
	} else if s.Parts != nil {
		cols = append(cols, s.Parts.Names()...)
	}
	cols = append(cols, s.IdentityColumn, s.ValueColumn, s.SideColumn)
	for _, f := range s.Filters {
		cols = append(cols, f.Column)
	}
	return cols
}

// forTable switches Parts to the canonical key columns when t was enriched
// from the instrument master instead of carrying the configured ones.
func (s SourceSpec) forTable(t *types.Table) SourceSpec {
	if s.Parts != nil {
		p := s.Parts.For(t)
		s.Parts = &p
	}
	return s
}

func (s SourceSpec) validate() error {
	if s.KeyColumn == "" && s.Parts == nil {
		return fmt.Errorf("source %q: no key column or key parts", s.Label)
	}
	if s.Parts != nil && (s.Parts.Underlying == "" || s.Parts.Expiry == "") {
		return fmt.Errorf("source %q: key parts need underlying and expiry columns", s.Label)
	}
	if s.ValueColumn == "" {
		return fmt.Errorf("source %q: no value column", s.Label)
	}
	return nil
}

func (s SourceSpec) isSell(row types.Row) bool {
	if s.SideColumn == "" {
		return false
	}
	side := strings.TrimSpace(row.Text(s.SideColumn))
	for _, v := range s.SellValues {
		if strings.EqualFold(side, v) {
			return true
		}
	}
	return false
}

// key returns the row's security key.
func (s SourceSpec) key(row types.Row) (string, error) {
	if s.KeyColumn != "" {
		k := strings.ToUpper(strings.TrimSpace(row.Text(s.KeyColumn)))
		if k == "" {
			return "", &seckey.KeyDerivationError{Reason: seckey.ReasonMissingKey, Field: s.KeyColumn}
		}
		return k, nil
	}
	return s.Parts.FromRow(row)
}

// Descriptor configures one report type.
type Descriptor struct {
	Name string
	// SignNote documents the sign convention, e.g. "Geneva − Holding".
	SignNote string
	SideA    SourceSpec
	SideB    SourceSpec
}

func (d Descriptor) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("descriptor has no name"))
	}
	if err := d.SideA.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := d.SideB.validate(); err != nil {
		errs = append(errs, err)
	}
	if (d.SideA.IdentityColumn == "") != (d.SideB.IdentityColumn == "") {
		errs = append(errs, fmt.Errorf("%s: both sides or neither must compose an identity", d.Name))
	}
	return errors.Join(errs...)
}

// Fields is the ordered output field list for matched records.
func (d Descriptor) Fields() []string {
	a, b := d.SideA.Label, d.SideB.Label
	if a == "" {
		a = "SideA"
	}
	if b == "" {
		b = "SideB"
	}
	return []string{"SecurityKey", "Identity", a, b, "Difference", "Status"}
}
