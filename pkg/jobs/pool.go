package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job represents a unit of work inside a batch.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Batch is an ordered group of jobs sharing a key. Jobs of one batch never run
// concurrently and always run in slice order.
type Batch struct {
	Key  string
	Jobs []Job
}

// Handler processes a job. A non-nil error halts the rest of its batch.
type Handler func(context.Context, Job) error

// PoolConfig configures worker pool behaviour.
type PoolConfig struct {
	Workers int
	Logger  *zap.Logger
}

// Pool runs batches on a bounded number of goroutines.
type Pool struct {
	name    string
	handler Handler
	workers int
	logger  *zap.Logger
}

// RunStats summarises one Run call.
type RunStats struct {
	Batches int
	Jobs    int
	Halted  int
}

// NewPool builds a pool with the provided handler.
func NewPool(name string, handler Handler, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pool{name: name, handler: handler, workers: cfg.Workers, logger: cfg.Logger}
}

// Run dispatches batches and blocks until every batch has finished or been
// abandoned because ctx was cancelled.
func (p *Pool) Run(ctx context.Context, batches []Batch) RunStats {
	stats := RunStats{Batches: len(batches)}
	if len(batches) == 0 {
		return stats
	}

	workers := p.workers
	if workers > len(batches) {
		workers = len(batches)
	}

	queue := make(chan Batch)
	var (
		wg     sync.WaitGroup
		jobs   atomic.Int64
		halted atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for batch := range queue {
				done, ok := p.runBatch(ctx, workerID, batch)
				jobs.Add(int64(done))
				if !ok {
					halted.Add(1)
				}
			}
		}(i + 1)
	}

dispatch:
	for _, batch := range batches {
		select {
		case <-ctx.Done():
			break dispatch
		case queue <- batch:
		}
	}
	close(queue)
	wg.Wait()

	stats.Jobs = int(jobs.Load())
	stats.Halted = int(halted.Load())
	return stats
}

func (p *Pool) runBatch(ctx context.Context, workerID int, batch Batch) (int, bool) {
	for i, job := range batch.Jobs {
		if ctx.Err() != nil {
			return i, false
		}
		if job.Enqueued.IsZero() {
			job.Enqueued = time.Now().UTC()
		}
		if err := p.handler(ctx, job); err != nil {
			p.logger.Sugar().Debugw("batch halted", "pool", p.name, "worker", workerID, "batch", batch.Key, "job_id", job.ID, "remaining", len(batch.Jobs)-i-1, "error", err)
			return i + 1, false
		}
	}
	return len(batch.Jobs), true
}
