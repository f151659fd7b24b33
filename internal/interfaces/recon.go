package interfaces

import (
	"context"

	"fundrecon/internal/recon"
	"fundrecon/internal/store"
	"fundrecon/internal/types"
)

type Reconciler interface {
	Reconcile(ctx context.Context, d recon.Descriptor, a, b *types.Table) (*types.ReconResult, error)
	ThreeWay(ctx context.Context, d recon.ThreeWayDescriptor, master, cds, regular *types.Table) (*types.ReconResult, error)
}

type JobRunner interface {
	Run(ctx context.Context, job store.Job) (*types.JobReport, error)
	RunAll(ctx context.Context, jobs []store.Job) ([]*types.JobReport, error)
}
