package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	simerrors "github.com/simvis/simvis/pkg/errors"
)

const namespace = "simvis"

// Metrics holds the engine's Prometheus collectors. It satisfies
// dispatch.Recorder and extract.Observer.
type Metrics struct {
	registry *prometheus.Registry

	jobs        *prometheus.CounterVec   // by parser and outcome
	attempts    *prometheus.HistogramVec // by parser
	jobDuration *prometheus.HistogramVec // by parser
	requests    *prometheus.CounterVec   // by operation and error code
	reqDuration *prometheus.HistogramVec // by operation
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Parser jobs by outcome (success, no_match, failed, skipped)",
		}, []string{"parser", "outcome"}),

		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "job_attempts",
			Help:      "Extraction attempts per job",
			Buckets:   []float64{1, 2, 3, 5, 10},
		}, []string{"parser"}),

		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "job_duration_seconds",
			Help:      "Wall time of one parser job",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"parser"}),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "requests_total",
			Help:      "Extraction requests by operation and error code (empty on success)",
		}, []string{"operation", "code"}),

		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "request_duration_seconds",
			Help:      "Wall time of one extraction request",
			Buckets:   prometheus.ExponentialBuckets(0.005, 3, 9),
		}, []string{"operation"}),
	}

	m.registry.MustRegister(
		m.jobs, m.attempts, m.jobDuration, m.requests, m.reqDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// JobDone records one finished dispatcher job.
func (m *Metrics) JobDone(parser, outcome string, attempts int, elapsed time.Duration) {
	m.jobs.WithLabelValues(parser, outcome).Inc()
	if attempts > 0 {
		m.attempts.WithLabelValues(parser).Observe(float64(attempts))
	}
	m.jobDuration.WithLabelValues(parser).Observe(elapsed.Seconds())
}

// RequestDone records one finished extraction request.
func (m *Metrics) RequestDone(op string, elapsed time.Duration, err error) {
	code := ""
	if err != nil {
		code = string(simerrors.GetCode(err))
	}
	m.requests.WithLabelValues(op, code).Inc()
	m.reqDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics and /health on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
