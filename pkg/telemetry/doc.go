// Package telemetry provides observability for pgfroyo.
//
// It integrates structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus). Tracing and metrics plug into lifecycle operations as
// postgres.Observer implementations, so every create, drop, update and initdb
// becomes a span and a set of counters without the operations knowing.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//	cfg.Metrics.TextfilePath = "/var/lib/node_exporter/pgfroyo.prom"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	runner := postgres.NewRunner(rc, exec,
//	    postgres.WithObserver(tel.Observers()...),
//	    postgres.WithLogger(tel.Logger))
//
// # Logging
//
// NewLogger returns a zerolog.Logger writing console or JSON output to
// stdout, stderr or a file. Components derive children with With().
// Environment values and stdin of invocations are never logged.
//
// # Tracing
//
// Exporters: "stdout" (pretty JSON, for debugging), "otlp" (gRPC collector)
// and "none". Spans are named "postgres.<operation>" and carry the target,
// action, exit status and error kind.
//
// # Metrics
//
// All metrics are prefixed with the configured namespace (default "pgfroyo"):
//
//   - operations_total{operation,action}
//   - operation_duration_seconds{operation}
//   - operation_errors_total{operation,kind}
//   - last_change_timestamp_seconds{operation}
//   - runs_completed_total{command,status}
//   - run_duration_seconds{command}
//
// Metrics can be served over HTTP for long-running use, or written to a
// node_exporter textfile when the process exits.
package telemetry
