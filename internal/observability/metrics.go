// Package observability exposes Prometheus instrumentation for the
// processing pipeline.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the pipeline's instruments. A nil *Metrics is valid and
// records nothing, so tests and tools can skip registration.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	ocrDuration  prometheus.Histogram
	llmFallbacks prometheus.Counter
	rejections   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "receipts_jobs_total",
			Help: "Processed jobs by terminal outcome.",
		}, []string{"outcome"}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "receipts_job_duration_seconds",
			Help:    "Wall-clock duration of one pipeline run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 11),
		}),
		ocrDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "receipts_ocr_duration_seconds",
			Help:    "Duration of text extraction including preprocessing.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		llmFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "receipts_extraction_fallbacks_total",
			Help: "Times image extraction failed over to OCR-text extraction.",
		}),
		rejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "receipts_pool_rejections_total",
			Help: "Fallback-mode submissions rejected because the pool was full.",
		}),
	}
}

func (m *Metrics) ObserveJob(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveOCR(d time.Duration) {
	if m == nil {
		return
	}
	m.ocrDuration.Observe(d.Seconds())
}

func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.llmFallbacks.Inc()
}

func (m *Metrics) IncRejection() {
	if m == nil {
		return
	}
	m.rejections.Inc()
}

// Serve exposes /metrics until ctx is cancelled. Blocks.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics.listen", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
