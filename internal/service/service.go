// Package service runs configured jobs end to end: load the inputs, run the
// engine or a loader projection, write the output and journal what was
// dropped along the way.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"fundrecon/internal/auditlog"
	"fundrecon/internal/bhavcopy"
	"fundrecon/internal/export"
	"fundrecon/internal/instruments"
	"fundrecon/internal/interfaces"
	"fundrecon/internal/logger"
	"fundrecon/internal/projection"
	"fundrecon/internal/recon"
	"fundrecon/internal/refdata"
	"fundrecon/internal/store"
	"fundrecon/internal/table"
	"fundrecon/internal/types"
)

var (
	_ interfaces.Reconciler = (*recon.Engine)(nil)
	_ interfaces.JobRunner  = (*Service)(nil)
)

var ErrNoInstruments = errors.New("symbol_column set but no instrument master loaded")

type Params struct {
	Config      *store.Config
	Reconciler  interfaces.Reconciler
	Resolver    *refdata.Resolver
	Instruments *instruments.Master
	Journal     *auditlog.Journal
}

type Service struct {
	cfg     *store.Config
	recon   interfaces.Reconciler
	res     *refdata.Resolver
	master  *instruments.Master
	journal *auditlog.Journal
	format  export.Format
}

func New(p Params) (*Service, error) {
	format, err := export.ParseFormat(p.Config.Format)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:     p.Config,
		recon:   p.Reconciler,
		res:     p.Resolver,
		master:  p.Instruments,
		journal: p.Journal,
		format:  format,
	}, nil
}

// RunAll runs jobs in order. A failed job is reported and the rest still run;
// the returned error joins every job failure.
func (s *Service) RunAll(ctx context.Context, jobs []store.Job) ([]*types.JobReport, error) {
	reports := make([]*types.JobReport, 0, len(jobs))
	var errs []error
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := s.Run(ctx, job)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.Name, err))
			rep = &types.JobReport{Job: job.Name, Kind: job.Kind, Preset: job.Preset, Error: err.Error()}
		}
		reports = append(reports, rep)
	}
	if s.cfg.Bundle {
		if err := s.bundle(reports); err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

func (s *Service) Run(ctx context.Context, job store.Job) (*types.JobReport, error) {
	var (
		rep *types.JobReport
		buf bytes.Buffer
		err error
	)
	switch job.Kind {
	case store.JobRecon:
		rep, err = s.runRecon(ctx, job, &buf)
	case store.JobThreeWay:
		rep, err = s.runThreeWay(ctx, job, &buf)
	case store.JobLoader:
		rep, err = s.runLoader(ctx, job, &buf)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		return nil, err
	}

	path, err := s.write(job.Output+"."+string(s.format), buf.Bytes())
	if err != nil {
		return nil, err
	}
	rep.Output = path
	s.journal.Record(job.Name, rep.Records, rep.Summary)
	return rep, nil
}

func (s *Service) runRecon(ctx context.Context, job store.Job, buf *bytes.Buffer) (*types.JobReport, error) {
	d, err := recon.Preset(job.Preset)
	if err != nil {
		return nil, err
	}
	tables, err := s.loadInputs(ctx, job, store.RoleA, store.RoleB)
	if err != nil {
		return nil, err
	}
	res, err := s.recon.Reconcile(ctx, d, tables[0], tables[1])
	if err != nil {
		return nil, err
	}
	if err := export.Result(buf, s.format, res); err != nil {
		return nil, err
	}
	return reconReport(job, res), nil
}

func (s *Service) runThreeWay(ctx context.Context, job store.Job, buf *bytes.Buffer) (*types.JobReport, error) {
	d, err := recon.ThreeWayPreset(job.Preset)
	if err != nil {
		return nil, err
	}
	tables, err := s.loadInputs(ctx, job, store.RoleMaster, store.RoleCDS, store.RoleRegular)
	if err != nil {
		return nil, err
	}
	res, err := s.recon.ThreeWay(ctx, d, tables[0], tables[1], tables[2])
	if err != nil {
		return nil, err
	}
	if err := export.Result(buf, s.format, res); err != nil {
		return nil, err
	}
	return reconReport(job, res), nil
}

func (s *Service) runLoader(ctx context.Context, job store.Job, buf *bytes.Buffer) (*types.JobReport, error) {
	spec, err := projection.Loader(job.Preset)
	if err != nil {
		return nil, err
	}
	tables, err := s.loadInputs(ctx, job, store.RoleSource)
	if err != nil {
		return nil, err
	}

	op := logger.StartOperation(ctx, "projection.ProjectAll", "loader", spec.Name, "rows", len(tables[0].Rows))
	res, err := projection.ProjectAll(op.GetContext(), tables[0], spec, s.res, s.cfg.Precision, s.cfg.Workers)
	if err != nil {
		op.EndWithError(err)
		return nil, err
	}
	op.End("records", len(res.Records), "skipped", res.Summary.Skipped)

	if err := export.Loader(buf, s.format, res); err != nil {
		return nil, err
	}
	return &types.JobReport{
		Job:     job.Name,
		Kind:    job.Kind,
		Preset:  job.Preset,
		Records: len(res.Records),
		Summary: res.Summary,
	}, nil
}

func reconReport(job store.Job, res *types.ReconResult) *types.JobReport {
	return &types.JobReport{
		Job:     job.Name,
		Kind:    job.Kind,
		Preset:  job.Preset,
		Records: len(res.Records),
		Summary: res.Summary,
		Stages:  res.Stages,
	}
}

// loadInputs reads the inputs for roles concurrently, returned in role order.
func (s *Service) loadInputs(ctx context.Context, job store.Job, roles ...string) ([]*types.Table, error) {
	out := make([]*types.Table, len(roles))
	g, ctx := errgroup.WithContext(ctx)
	for i, role := range roles {
		i, role := i, role
		in := job.Inputs[role]
		g.Go(func() error {
			t, err := s.loadInput(ctx, job.Name+"."+role, in)
			if err != nil {
				return fmt.Errorf("input %s: %w", role, err)
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) loadInput(ctx context.Context, name string, in store.Input) (*types.Table, error) {
	var (
		t   *types.Table
		err error
	)
	switch in.Kind {
	case store.InputBhavcopy:
		t, err = bhavcopy.LoadAll(ctx, name, in.Files())
	default:
		t, err = table.Load(in.Path, tableOptions(name, in))
	}
	if err != nil {
		return nil, err
	}
	if in.SymbolColumn == "" {
		return t, nil
	}

	if s.master == nil {
		return nil, ErrNoInstruments
	}
	enriched, unknown, err := s.master.Enrich(t, in.SymbolColumn)
	if err != nil {
		return nil, err
	}
	if len(unknown) > 0 {
		logger.Warn(ctx, "Symbols missing from instrument master", "table", name, "count", len(unknown), "symbols", unknown)
	}
	return enriched, nil
}

func tableOptions(name string, in store.Input) table.Options {
	opts := table.Options{
		Name:        name,
		StartRow:    in.StartRow,
		StartCol:    in.StartCol,
		NoHeader:    in.NoHeader,
		Sheet:       in.Sheet,
		DateColumns: in.DateColumns,
	}
	if r := []rune(in.Delimiter); len(r) == 1 {
		opts.Comma = r[0]
	}
	return opts
}

func (s *Service) write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.OutputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write output %s: %w", path, err)
	}
	return path, nil
}

func (s *Service) bundle(reports []*types.JobReport) error {
	var files []export.File
	for _, r := range reports {
		if r.Output == "" {
			continue
		}
		b, err := os.ReadFile(r.Output)
		if err != nil {
			return err
		}
		files = append(files, export.File{Name: filepath.Base(r.Output), Data: b})
	}
	if len(files) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := export.Bundle(&buf, files); err != nil {
		return err
	}
	_, err := s.write("bundle.zip", buf.Bytes())
	return err
}
