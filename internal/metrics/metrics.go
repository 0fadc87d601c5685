// Package metrics exposes Prometheus instrumentation for the job pipeline.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total jobs processed by terminal result.",
		},
		[]string{"result"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocr",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "End-to-end job processing duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"result"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocr",
			Subsystem: "worker",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage processing duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)
	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ocr",
			Subsystem: "worker",
			Name:      "retries_total",
			Help:      "Total automatic retry re-queues.",
		},
	)
	sweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr",
			Subsystem: "sweep",
			Name:      "actions_total",
			Help:      "Total maintenance sweep actions by kind.",
		},
		[]string{"kind"},
	)
	confidenceObserved = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ocr",
			Subsystem: "worker",
			Name:      "extraction_confidence",
			Help:      "Confidence scores of completed extractions.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal, jobDuration, stageDuration, retriesTotal, sweepsTotal, confidenceObserved)
}

// RecordJob records a terminal job outcome with its wall-clock duration.
func RecordJob(result string, start time.Time) {
	jobsTotal.WithLabelValues(result).Inc()
	jobDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

// RecordStage records the duration of one pipeline stage.
func RecordStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordRetry counts an automatic failed->pending re-queue.
func RecordRetry() {
	retriesTotal.Inc()
}

// RecordSweep counts one maintenance action (retry, stale, pending, purge).
func RecordSweep(kind string) {
	sweepsTotal.WithLabelValues(kind).Inc()
}

// RecordConfidence observes the confidence of a completed extraction.
func RecordConfidence(score float32) {
	confidenceObserved.Observe(float64(score))
}

// Server wraps the /metrics and /healthz HTTP listener.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer builds the metrics listener on addr.
func NewServer(addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
}

// Start serves until Shutdown; it returns on listener failure.
func (s *Server) Start() {
	s.log.Info("metrics server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("metrics server failed", "err", err)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
