package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/decoystation/internal/capture"
)

// Worker pairs one shard with the capture source that feeds it.
type Worker struct {
	Shard   *Shard
	Capture capture.Capturer
}

// Runtime runs one goroutine per worker, each locked to its OS thread, plus
// the stats reporter. Shards share nothing; no locks are taken on the packet
// path.
type Runtime struct {
	workers  []Worker
	reporter *Reporter
}

func NewRuntime(workers []Worker, reporter *Reporter) *Runtime {
	if reporter == nil {
		shards := make([]*Shard, len(workers))
		sources := make([]capture.Capturer, len(workers))
		for i, w := range workers {
			shards[i], sources[i] = w.Shard, w.Capture
		}
		reporter = NewReporter(shards, sources, DefaultStatsInterval)
	}
	return &Runtime{workers: workers, reporter: reporter}
}

// Reporter returns the runtime's reporter.
func (r *Runtime) Reporter() *Reporter { return r.reporter }

// Run blocks until ctx is cancelled or every source is exhausted. A capture
// error stops all workers. Shards are closed before Run returns.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, w := range r.workers {
		w := w
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			slog.Info("worker started", "shard", w.Shard.ID())
			if err := w.Capture.Capture(gctx, w.Shard.ProcessFrame); err != nil {
				return fmt.Errorf("shard %d: %w", w.Shard.ID(), err)
			}
			slog.Info("worker stopped", "shard", w.Shard.ID())
			return nil
		})
	}

	repCtx, stopReporter := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.reporter.Run(repCtx)
	}()

	err := g.Wait()
	stopReporter()
	wg.Wait()

	var closeErrs []error
	for _, w := range r.workers {
		if cerr := w.Shard.Close(); cerr != nil {
			closeErrs = append(closeErrs, fmt.Errorf("close shard %d: %w", w.Shard.ID(), cerr))
		}
	}
	return errors.Join(append([]error{err}, closeErrs...)...)
}
