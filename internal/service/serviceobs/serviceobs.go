package serviceobs

import (
	"context"
	"time"

	"fundrecon/internal/interfaces"
	"fundrecon/internal/logger"
	"fundrecon/internal/store"
	"fundrecon/internal/trace"
	"fundrecon/internal/types"
)

type observableJobRunner struct {
	runner interfaces.JobRunner
}

var _ interfaces.JobRunner = (*observableJobRunner)(nil)

func Wrap(runner interfaces.JobRunner) interfaces.JobRunner {
	return &observableJobRunner{
		runner: runner,
	}
}

func (oj *observableJobRunner) Run(ctx context.Context, job store.Job) (*types.JobReport, error) {
	ctx, span := trace.StartSpan(ctx, "service.Run")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Starting job",
		"job", job.Name,
		"kind", job.Kind,
		"preset", job.Preset,
	)

	rep, err := oj.runner.Run(ctx, job)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Job failed", err,
			"job", job.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.Reconciliation(ctx, job.Name, rep.Records, rep.Summary.Skipped, rep.Summary.TotalMisses(), rep.Summary.TotalZeroed(),
		"output", rep.Output,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if reasons := rep.Summary.Reasons(); len(reasons) > 0 {
		logger.WarnSkip(ctx, 1, "Rows skipped",
			"job", job.Name,
			"reasons", reasons,
		)
	}
	if logger.IsDebugEnabled() {
		logger.DebugSkip(ctx, 1, "Job detail",
			"job", job.Name,
			"stages", rep.Stages,
			"resolution_misses", rep.Summary.Misses,
			"zeroed_values", rep.Summary.Zeroed,
		)
	}
	return rep, nil
}

func (oj *observableJobRunner) RunAll(ctx context.Context, jobs []store.Job) ([]*types.JobReport, error) {
	ctx, span := trace.StartSpan(ctx, "service.RunAll")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Running jobs", "count", len(jobs))

	reports, err := oj.runner.RunAll(ctx, jobs)

	failed := 0
	for _, r := range reports {
		if r.Error != "" {
			failed++
			logger.WarnSkip(ctx, 1, "Job failed", "job", r.Job, "error", r.Error)
			continue
		}
		logger.InfoSkip(ctx, 1, "Job completed",
			"job", r.Job,
			"records", r.Records,
			"output", r.Output,
		)
	}
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Some jobs failed", err,
			"failed", failed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return reports, err
	}

	logger.InfoSkip(ctx, 1, "All jobs completed",
		"count", len(reports),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reports, nil
}
