package recon

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fundrecon/internal/logger"
	"fundrecon/internal/numeric"
	"fundrecon/internal/refdata"
	"fundrecon/internal/table"
	"fundrecon/internal/types"
)

type Stage string

const (
	StageLoadSources        Stage = "LOAD_SOURCES"
	StageBuildKeys          Stage = "BUILD_KEYS"
	StageJoin               Stage = "JOIN"
	StageComputeDifferences Stage = "COMPUTE_DIFFERENCES"
	StageDone               Stage = "DONE"
	StageFailed             Stage = "FAILED"
)

// Run tracks the stages of one reconciliation.
type Run struct {
	Report  string
	Stage   Stage
	History []Stage
	Err     error
}

func newRun(report string) *Run {
	r := &Run{Report: report}
	r.advance(StageLoadSources)
	return r
}

func (r *Run) advance(s Stage) {
	r.Stage = s
	r.History = append(r.History, s)
}

// fail moves the run to FAILED and wraps err with the stage it failed in.
func (r *Run) fail(err error) error {
	failed := r.Stage
	r.Err = err
	r.advance(StageFailed)
	return &RunError{Report: r.Report, Stage: failed, Err: err}
}

func (r *Run) stages() []string {
	out := make([]string, len(r.History))
	for i, s := range r.History {
		out[i] = string(s)
	}
	return out
}

// RunError carries the stage a run failed in. Unwrap exposes the cause, so
// errors.As(err, &*types.SchemaError) works through it.
type RunError struct {
	Report string
	Stage  Stage
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: failed in %s: %v", e.Report, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Pair is one composite key with whatever each side holds for it.
type Pair struct {
	Key      string
	Identity string
	A, B     *Entry
}

// Join returns the union of both indexes' keys, sorted by security key then
// identity. A side without the key has a nil entry.
func Join(a, b *Index) []Pair {
	seen := map[string]*Pair{}
	var pairs []*Pair
	add := func(ix *Index, isA bool) {
		for _, c := range ix.order {
			e := ix.byKey[c]
			p, ok := seen[c]
			if !ok {
				p = &Pair{Key: e.Key, Identity: e.Identity}
				seen[c] = p
				pairs = append(pairs, p)
			}
			if isA {
				p.A = e
			} else {
				p.B = e
			}
		}
	}
	add(a, true)
	add(b, false)

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].Key != pairs[j].Key {
			return pairs[i].Key < pairs[j].Key
		}
		return pairs[i].Identity < pairs[j].Identity
	})
	out := make([]Pair, len(pairs))
	for i, p := range pairs {
		out[i] = *p
	}
	return out
}

// ComputeDifferences sets Difference = A − B, with a missing side as zero.
func ComputeDifferences(pairs []Pair) []types.MatchedRecord {
	out := make([]types.MatchedRecord, 0, len(pairs))
	for _, p := range pairs {
		rec := types.MatchedRecord{
			Key:      p.Key,
			Identity: p.Identity,
			SideA:    decimal.Zero,
			SideB:    decimal.Zero,
		}
		switch {
		case p.A != nil && p.B != nil:
			rec.Status = types.StatusMatched
		case p.A != nil:
			rec.Status = types.StatusSourceOnly
		default:
			rec.Status = types.StatusTargetOnly
		}
		if p.A != nil {
			rec.SideA = p.A.Value
		}
		if p.B != nil {
			rec.SideB = p.B.Value
		}
		rec.Difference = rec.SideA.Sub(rec.SideB)
		out = append(out, rec)
	}
	return out
}

// Engine runs descriptors against loaded tables. The resolver is shared and
// read-only; each run counts its own misses.
type Engine struct {
	resolver  *refdata.Resolver
	precision int
}

func NewEngine(resolver *refdata.Resolver, precision int) *Engine {
	if resolver == nil {
		resolver = refdata.NewResolver(nil)
	}
	if precision <= 0 {
		precision = numeric.DefaultPrecision
	}
	return &Engine{resolver: resolver, precision: precision}
}

func (e *Engine) Resolver() *refdata.Resolver { return e.resolver }

// ReconcileFiles loads both sides concurrently and reconciles them.
func (e *Engine) ReconcileFiles(ctx context.Context, d Descriptor, srcA, srcB table.Source) (*types.ReconResult, error) {
	run := newRun(d.Name)
	tables, err := table.LoadAll(ctx, []table.Source{srcA, srcB})
	if err != nil {
		return nil, run.fail(err)
	}
	return e.reconcile(ctx, run, d, tables[0], tables[1])
}

// Reconcile matches a against b as configured by d.
func (e *Engine) Reconcile(ctx context.Context, d Descriptor, a, b *types.Table) (*types.ReconResult, error) {
	return e.reconcile(ctx, newRun(d.Name), d, a, b)
}

func (e *Engine) reconcile(ctx context.Context, run *Run, d Descriptor, a, b *types.Table) (*types.ReconResult, error) {
	timer := logger.StartOperation(ctx, "recon.Reconcile", "report", d.Name)
	ctx = timer.GetContext()

	if err := d.Validate(); err != nil {
		timer.EndWithError(err)
		return nil, run.fail(err)
	}
	if a == nil || b == nil {
		err := fmt.Errorf("missing source table")
		timer.EndWithError(err)
		return nil, run.fail(err)
	}
	d.SideA, d.SideB = d.SideA.forTable(a), d.SideB.forTable(b)
	if err := a.Require(d.SideA.Required()...); err != nil {
		timer.EndWithError(err)
		return nil, run.fail(err)
	}
	if err := b.Require(d.SideB.Required()...); err != nil {
		timer.EndWithError(err)
		return nil, run.fail(err)
	}

	run.advance(StageBuildKeys)
	ixA, ixB, summary, err := e.buildBoth(ctx, d.SideA, d.SideB, a, b)
	if err != nil {
		timer.EndWithError(err)
		return nil, run.fail(err)
	}

	run.advance(StageJoin)
	pairs := Join(ixA, ixB)

	run.advance(StageComputeDifferences)
	records := ComputeDifferences(pairs)

	run.advance(StageDone)
	timer.End("records", len(records), "skipped_rows", summary.Skipped)

	return &types.ReconResult{
		Report:   d.Name,
		SignNote: d.SignNote,
		Fields:   d.Fields(),
		Records:  records,
		Summary:  summary,
		Stages:   run.stages(),
	}, nil
}

// buildBoth indexes the two tables concurrently. Each side aggregates
// single-threaded into its own summary; summaries merge afterwards.
func (e *Engine) buildBoth(ctx context.Context, specA, specB SourceSpec, a, b *types.Table) (*Index, *Index, *types.RunSummary, error) {
	sumA, sumB := types.NewRunSummary(), types.NewRunSummary()
	var ixA, ixB *Index

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ixA, err = BuildIndex(gctx, a, specA, e.resolver, sumA, e.precision)
		return err
	})
	g.Go(func() error {
		var err error
		ixB, err = BuildIndex(gctx, b, specB, e.resolver, sumB, e.precision)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	sumA.Merge(sumB)
	return ixA, ixB, sumA, nil
}
