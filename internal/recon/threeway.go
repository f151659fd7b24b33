package recon

import (
	"context"
	"fmt"
	"strings"

	"fundrecon/internal/logger"
	"fundrecon/internal/types"
)

// ThreeWayDescriptor reconciles a master ledger against two custodian
// sub-ledgers (CDS and regular) that together make up side B.
type ThreeWayDescriptor struct {
	Name     string
	SignNote string
	Master   SourceSpec
	CDS      SourceSpec
	Regular  SourceSpec
}

const (
	LedgerCDS     = "CDS"
	LedgerRegular = "REGULAR"
)

// ThreeWay resolves each sub-ledger row's identity through the identity map
// first. When the map has no entry and exactly one master portfolio holds the
// security key, that portfolio is used; otherwise the row stays under its
// unresolved identity and surfaces as TARGET_ONLY.
func (e *Engine) ThreeWay(ctx context.Context, d ThreeWayDescriptor, master, cds, regular *types.Table) (*types.ReconResult, error) {
	run := newRun(d.Name)
	timer := logger.StartOperation(ctx, "recon.ThreeWay", "report", d.Name)
	ctx = timer.GetContext()

	fail := func(err error) (*types.ReconResult, error) {
		timer.EndWithError(err)
		return nil, run.fail(err)
	}

	for _, s := range []SourceSpec{d.Master, d.CDS, d.Regular} {
		if err := s.validate(); err != nil {
			return fail(err)
		}
		if s.IdentityColumn == "" {
			return fail(fmt.Errorf("%s: source %q needs an identity column", d.Name, s.Label))
		}
	}
	if master == nil || cds == nil || regular == nil {
		return fail(fmt.Errorf("missing source table"))
	}
	d.Master, d.CDS, d.Regular = d.Master.forTable(master), d.CDS.forTable(cds), d.Regular.forTable(regular)
	for _, c := range []struct {
		t    *types.Table
		spec SourceSpec
	}{{master, d.Master}, {cds, d.CDS}, {regular, d.Regular}} {
		if err := c.t.Require(c.spec.Required()...); err != nil {
			return fail(err)
		}
	}

	run.advance(StageBuildKeys)
	summary := types.NewRunSummary()
	ixMaster, err := BuildIndex(ctx, master, d.Master, e.resolver, summary, e.precision)
	if err != nil {
		return fail(err)
	}

	fallback := func(key string) (string, bool) {
		ids := ixMaster.Identities(key)
		if len(ids) == 1 {
			return ids[0], true
		}
		return "", false
	}

	cdsSpec, regSpec := d.CDS, d.Regular
	if cdsSpec.Label == "" {
		cdsSpec.Label = LedgerCDS
	}
	if regSpec.Label == "" {
		regSpec.Label = LedgerRegular
	}
	ixCDS, err := buildIndex(ctx, cds, cdsSpec, e.resolver, summary, e.precision, fallback)
	if err != nil {
		return fail(err)
	}
	ixReg, err := buildIndex(ctx, regular, regSpec, e.resolver, summary, e.precision, fallback)
	if err != nil {
		return fail(err)
	}

	sideB := NewIndex("Custodian", AggSum)
	sideB.Merge(ixCDS)
	sideB.Merge(ixReg)

	run.advance(StageJoin)
	pairs := Join(ixMaster, sideB)

	run.advance(StageComputeDifferences)
	records := ComputeDifferences(pairs)
	for i, p := range pairs {
		if p.B != nil {
			records[i].Ledger = strings.Join(p.B.Sources, "+")
		}
	}

	run.advance(StageDone)
	timer.End("records", len(records), "skipped_rows", summary.Skipped)

	masterLabel := d.Master.Label
	if masterLabel == "" {
		masterLabel = "Master"
	}
	return &types.ReconResult{
		Report:   d.Name,
		SignNote: d.SignNote,
		Fields:   []string{"SecurityKey", "Identity", masterLabel, "Custodian", "Difference", "Status", "Ledger"},
		Records:  records,
		Summary:  summary,
		Stages:   run.stages(),
	}, nil
}
