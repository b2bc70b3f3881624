package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/expensobot/receipts-engine/internal/common"
	"github.com/expensobot/receipts-engine/internal/entity"
	"github.com/expensobot/receipts-engine/internal/observability"
)

// ProcessFunc runs one job to a terminal status.
type ProcessFunc func(ctx context.Context, job entity.Job) error

const (
	defaultWorkers    = 4
	defaultQueueSize  = 256
	defaultJobTimeout = 10 * time.Minute
)

// Pool is the fallback-mode executor: a fixed set of workers draining a
// bounded buffer. Submission never blocks; a full buffer rejects the job
// with ErrScheduling so the caller can leave the receipt pending.
type Pool struct {
	process    ProcessFunc
	logger     *slog.Logger
	metrics    *observability.Metrics
	workers    int
	queueSize  int
	jobTimeout time.Duration

	jobs   chan entity.Job
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

type PoolOption func(*Pool)

func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

func WithJobTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

func WithPoolMetrics(m *observability.Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

func NewPool(process ProcessFunc, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		process:    process,
		logger:     logger,
		workers:    defaultWorkers,
		queueSize:  defaultQueueSize,
		jobTimeout: defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.jobs = make(chan entity.Job, p.queueSize)
	return p
}

// Start launches the workers. ctx cancellation stops intake of new work;
// in-flight jobs finish under their own timeout.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("pool.started", "workers", p.workers, "queue_size", p.queueSize)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.jobTimeout)
		if err := p.process(jobCtx, job); err != nil {
			p.logger.Error("pool.job.failed", "worker", id, "receipt_id", job.ReceiptID, "error", err)
		}
		cancel()
	}
}

// TrySubmit schedules a job without blocking. Returns ErrScheduling when the
// buffer is full or the pool is shut down.
func (p *Pool) TrySubmit(job entity.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return common.WrapError(common.ErrScheduling, "pool is shut down")
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		p.metrics.IncRejection()
		p.logger.Warn("pool.submit.rejected", "receipt_id", job.ReceiptID, "queue_size", p.queueSize)
		return common.WrapError(common.ErrScheduling, "worker pool saturated")
	}
}

// Shutdown stops intake and waits for in-flight jobs, bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("pool.stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
