package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// Metrics provides Prometheus metrics for lifecycle operations.
// A disabled Metrics is valid and records nothing.
// It implements postgres.Observer.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	lastChange        *prometheus.GaugeVec

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of lifecycle operations by outcome",
			},
			[]string{"operation", "action"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of lifecycle operations in seconds, probe included",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		operationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_errors_total",
				Help:      "Total number of failed lifecycle operations by error kind",
			},
			[]string{"operation", "kind"},
		),
		lastChange: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_change_timestamp_seconds",
				Help:      "Unix time of the last operation that changed the cluster",
			},
			[]string{"operation"},
		),

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of CLI runs completed",
			},
			[]string{"command", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of CLI runs in seconds",
				Buckets:   buckets,
			},
			[]string{"command"},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.operationErrors,
		m.lastChange,
		m.runsCompleted,
		m.runDuration,
	)

	return m, nil
}

// Enabled reports whether metrics are being collected.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// OperationStarted implements postgres.Observer.
func (m *Metrics) OperationStarted(ctx context.Context, _ postgres.Operation, _ string) context.Context {
	return ctx
}

// OperationFinished implements postgres.Observer.
func (m *Metrics) OperationFinished(_ context.Context, result *postgres.OperationResult, err error) {
	if m.registry == nil || result == nil {
		return
	}
	op := string(result.Operation)
	m.operations.WithLabelValues(op, result.Action).Inc()
	m.operationDuration.WithLabelValues(op).Observe(result.Duration.Seconds())
	if err != nil {
		m.operationErrors.WithLabelValues(op, string(postgres.KindOf(err))).Inc()
	}
	if result.Changed {
		m.lastChange.WithLabelValues(op).Set(float64(result.StartedAt.Add(result.Duration).Unix()))
	}
}

// RecordRunCompleted records a completed CLI run with its status and duration.
func (m *Metrics) RecordRunCompleted(command, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(command, status).Inc()
	m.runDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// Gatherer exposes the underlying registry, or nil when disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// WriteTextfile writes the current metrics for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// StartMetricsServer serves the metrics endpoint until ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
