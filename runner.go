package rowbatch

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultRunner returns a runner bounded by the number of CPUs.
func DefaultRunner(ctx context.Context) Runner {
	return newErrGroupRunner(ctx, runtime.NumCPU())
}

// NewLimitedRunner creates a runner with bounded concurrency. Go blocks
// while maxConcurrency functions are running, so a feeding loop refills the
// pool one job at a time as slots free up.
func NewLimitedRunner(ctx context.Context, maxConcurrency int) Runner {
	return newErrGroupRunner(ctx, maxConcurrency)
}

// errGroupRunner is the default implementation backed by errgroup.Group.
type errGroupRunner struct {
	ctx context.Context // derived ctx shared by all tasks
	eg  *errgroup.Group
}

func newErrGroupRunner(parent context.Context, maxConcurrency int) *errGroupRunner {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	eg, ctx := errgroup.WithContext(parent)
	eg.SetLimit(maxConcurrency)
	return &errGroupRunner{ctx: ctx, eg: eg}
}

func (r *errGroupRunner) Go(fn func() error) { r.eg.Go(fn) }

func (r *errGroupRunner) Wait() error { return r.eg.Wait() }
