// Package dispatch routes processing jobs to their execution regime: a NATS
// broker when one is reachable at startup, otherwise an in-process worker
// pool for the rest of the process lifetime.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/expensobot/receipts-engine/internal/common"
	"github.com/expensobot/receipts-engine/internal/entity"
	"github.com/expensobot/receipts-engine/internal/observability"
)

// Mode names the execution regime chosen at startup.
type Mode string

const (
	ModeBroker   Mode = "broker"
	ModeFallback Mode = "fallback"
)

// Gateway is the single entry point for job submission. The mode is decided
// once in NewGateway and never changes; there is no per-call broker retry.
type Gateway struct {
	mode   Mode
	broker *Broker
	pool   *Pool
	logger *slog.Logger
}

// NewGateway probes the broker and fixes the execution regime. In fallback
// mode the pool is started immediately with process as its work function.
func NewGateway(
	ctx context.Context,
	cfg common.BrokerConfig,
	pipeline common.PipelineConfig,
	process ProcessFunc,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	broker, err := ConnectBroker(cfg, logger)
	if err == nil {
		logger.Info("dispatch.mode", "mode", ModeBroker)
		return &Gateway{mode: ModeBroker, broker: broker, logger: logger}
	}
	logger.Warn("dispatch.broker.unreachable", "url", cfg.URL, "error", err)

	pool := NewPool(process, logger,
		WithWorkers(pipeline.Workers),
		WithQueueSize(pipeline.QueueSize),
		WithJobTimeout(pipeline.JobTimeout),
		WithPoolMetrics(metrics),
	)
	pool.Start(ctx)
	logger.Info("dispatch.mode", "mode", ModeFallback)
	return &Gateway{mode: ModeFallback, pool: pool, logger: logger}
}

func (g *Gateway) Mode() Mode { return g.mode }

// Submit dispatches exactly one orchestrator invocation for the job and
// returns a job reference. In fallback mode a saturated pool returns
// ErrScheduling and the receipt stays pending for later resubmission.
func (g *Gateway) Submit(job entity.Job) (string, error) {
	switch g.mode {
	case ModeBroker:
		return g.broker.Publish(job)
	default:
		if err := g.pool.TrySubmit(job); err != nil {
			return "", err
		}
		return fmt.Sprintf("local/%s", job.ReceiptID), nil
	}
}

// Close releases whichever transport the gateway owns. In fallback mode it
// waits for in-flight jobs, bounded by ctx.
func (g *Gateway) Close(ctx context.Context) error {
	if g.broker != nil {
		g.broker.Close()
	}
	if g.pool != nil {
		return g.pool.Shutdown(ctx)
	}
	return nil
}
