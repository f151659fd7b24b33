package reconobs

import (
	"context"
	"time"

	"fundrecon/internal/interfaces"
	"fundrecon/internal/logger"
	"fundrecon/internal/recon"
	"fundrecon/internal/trace"
	"fundrecon/internal/types"
)

type observableReconciler struct {
	reconciler interfaces.Reconciler
}

var _ interfaces.Reconciler = (*observableReconciler)(nil)

func Wrap(r interfaces.Reconciler) interfaces.Reconciler {
	return &observableReconciler{
		reconciler: r,
	}
}

func (or *observableReconciler) Reconcile(ctx context.Context, d recon.Descriptor, a, b *types.Table) (*types.ReconResult, error) {
	ctx, span := trace.StartSpan(ctx, "recon.Reconcile")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Starting reconciliation",
		"report", d.Name,
		"rows_a", rowCount(a),
		"rows_b", rowCount(b),
	)

	res, err := or.reconciler.Reconcile(ctx, d, a, b)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Reconciliation failed", err,
			"report", d.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logReconciled(ctx, res, start)
	return res, nil
}

func (or *observableReconciler) ThreeWay(ctx context.Context, d recon.ThreeWayDescriptor, master, cds, regular *types.Table) (*types.ReconResult, error) {
	ctx, span := trace.StartSpan(ctx, "recon.ThreeWay")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Starting three-way reconciliation",
		"report", d.Name,
		"rows_master", rowCount(master),
		"rows_cds", rowCount(cds),
		"rows_regular", rowCount(regular),
	)

	res, err := or.reconciler.ThreeWay(ctx, d, master, cds, regular)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Three-way reconciliation failed", err,
			"report", d.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logReconciled(ctx, res, start)
	return res, nil
}

func logReconciled(ctx context.Context, res *types.ReconResult, start time.Time) {
	var matched, sourceOnly, targetOnly int
	for _, r := range res.Records {
		switch r.Status {
		case types.StatusMatched:
			matched++
		case types.StatusSourceOnly:
			sourceOnly++
		case types.StatusTargetOnly:
			targetOnly++
		}
	}
	logger.InfoSkip(ctx, 2, "Reconciliation completed",
		"report", res.Report,
		"records", len(res.Records),
		"matched", matched,
		"source_only", sourceOnly,
		"target_only", targetOnly,
		"skipped", res.Summary.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func rowCount(t *types.Table) int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}
