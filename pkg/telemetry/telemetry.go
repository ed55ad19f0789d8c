package telemetry

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// Telemetry bundles the logger, tracer and metrics of one process.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Observers returns the operation observers to register on a postgres.Runner.
func (t *Telemetry) Observers() []postgres.Observer {
	observers := []postgres.Observer{}
	if t.Config.Tracing.Enabled {
		observers = append(observers, t.Tracer)
	}
	if t.Metrics.Enabled() {
		observers = append(observers, t.Metrics)
	}
	return observers
}

// Shutdown writes the metrics textfile and flushes the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Metrics.WriteTextfile(),
		t.Tracer.Shutdown(ctx),
	)
}
