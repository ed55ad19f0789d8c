package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "missing service name", modify: func(c *Config) { c.ServiceName = "" }, errMsg: "service name is required"},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, errMsg: "invalid log level"},
		{name: "bad format", modify: func(c *Config) { c.Logging.Format = "xml" }, errMsg: "invalid log format"},
		{
			name:   "bad exporter",
			modify: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" },
			errMsg: "invalid trace exporter",
		},
		{
			name:   "otlp without endpoint",
			modify: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" },
			errMsg: "trace endpoint is required",
		},
		{name: "sampling rate", modify: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, errMsg: "sampling rate"},
		{
			name:   "metrics without sink",
			modify: func(c *Config) { c.Metrics.Enabled = true },
			errMsg: "listen address or a textfile path",
		},
		{
			name:   "metrics to textfile",
			modify: func(c *Config) { c.Metrics.Enabled = true; c.Metrics.TextfilePath = "/tmp/pgfroyo.prom" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestNewLoggerJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgfroyo.log")
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("target", "app").Msg("visible")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "visible", entry["message"])
	assert.Equal(t, "app", entry["target"])
}

func TestNewLoggerErrors(t *testing.T) {
	_, err := NewLogger(LoggingConfig{Level: "chatty", Format: "json"})
	assert.ErrorContains(t, err, "invalid log level")

	_, err = NewLogger(LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.ErrorContains(t, err, "failed to open log output")
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"trace": zerolog.TraceLevel,
		"debug": zerolog.DebugLevel,
		"error": zerolog.ErrorLevel,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestMetricsObserver(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "pgfroyo"})
	require.NoError(t, err)
	require.True(t, m.Enabled())

	ctx := m.OperationStarted(context.Background(), postgres.OpCreateDatabase, "app")
	m.OperationFinished(ctx, &postgres.OperationResult{
		Operation: postgres.OpCreateDatabase, Target: "app", Changed: true,
		Action: postgres.ActionCreated, StartedAt: time.Unix(1700000000, 0), Duration: 2 * time.Second,
	}, nil)
	m.OperationFinished(ctx, &postgres.OperationResult{
		Operation: postgres.OpCreateDatabase, Target: "app", Action: postgres.ActionAlreadyPresent,
	}, nil)
	failure := postgres.NewOperationFailedError(postgres.OpDropDatabase, "app", 1, "dropdb app")
	m.OperationFinished(ctx, &postgres.OperationResult{
		Operation: postgres.OpDropDatabase, Target: "app", Action: postgres.ActionFailed,
	}, failure)
	m.RecordRunCompleted("apply", "failed", 3*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create_database", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create_database", "already_present")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationErrors.WithLabelValues("drop_database", "operation_failed")))
	assert.Equal(t, 1700000002.0, testutil.ToFloat64(m.lastChange.WithLabelValues("create_database")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsCompleted.WithLabelValues("apply", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.operationDuration))
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	require.NoError(t, err)
	assert.False(t, m.Enabled())
	assert.Nil(t, m.Gatherer())

	assert.NotPanics(t, func() {
		m.OperationFinished(context.Background(), &postgres.OperationResult{Changed: true}, nil)
		m.RecordRunCompleted("apply", "completed", time.Second)
	})
	assert.NoError(t, m.WriteTextfile())
	assert.NoError(t, m.StartMetricsServer(context.Background(), zerolog.Nop()))
}

func TestMetricsWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgfroyo.prom")
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "pgfroyo", TextfilePath: path})
	require.NoError(t, err)

	m.OperationFinished(context.Background(), &postgres.OperationResult{
		Operation: postgres.OpInitDB, Action: postgres.ActionInitialized, Changed: true, StartedAt: time.Now(),
	}, nil)
	require.NoError(t, m.WriteTextfile())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `pgfroyo_operations_total{action="initialized",operation="initdb"} 1`)
}

func recordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &Tracer{provider: provider, tracer: provider.Tracer("pgfroyo"), config: TracingConfig{Enabled: true}}, recorder
}

func TestTracerObserver(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	ctx, run := tracer.StartRunSpan(context.Background(), "apply", "run-1", "db1")
	opCtx := tracer.OperationStarted(ctx, postgres.OpCreateRole, "app_user")
	assert.NotEmpty(t, TraceID(opCtx))
	tracer.OperationFinished(opCtx, &postgres.OperationResult{
		ID: "op-1", Operation: postgres.OpCreateRole, Target: "app_user", Changed: true, Action: postgres.ActionCreated,
	}, nil)

	opCtx = tracer.OperationStarted(ctx, postgres.OpDropRole, "old_user")
	tracer.OperationFinished(opCtx, &postgres.OperationResult{ID: "op-2", Action: postgres.ActionFailed, ExitStatus: 1},
		postgres.NewOperationFailedError(postgres.OpDropRole, "old_user", 1, "dropuser old_user"))
	run.End()

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	created := spans[0]
	assert.Equal(t, "postgres.create_role", created.Name())
	assert.Equal(t, codes.Ok, created.Status().Code)
	assert.Equal(t, spans[2].SpanContext().SpanID(), created.Parent().SpanID())
	attrs := map[string]string{}
	for _, kv := range created.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "app_user", attrs["pgfroyo.target"])
	assert.Equal(t, "created", attrs["pgfroyo.action"])
	assert.Equal(t, "true", attrs["pgfroyo.changed"])

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	require.Len(t, failed.Events(), 1)
	assert.Equal(t, "exception", failed.Events()[0].Name)
}

func TestNewTracerStdout(t *testing.T) {
	var buf bytes.Buffer
	tracer, err := newTracer(TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}, "pgfroyo", "test", "ci", &buf)
	require.NoError(t, err)

	ctx := tracer.OperationStarted(context.Background(), postgres.OpInitDB, "/var/lib/pgsql/16/data")
	tracer.OperationFinished(ctx, &postgres.OperationResult{Action: postgres.ActionInitialized}, nil)
	require.NoError(t, tracer.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name": "postgres.initdb"`)
}

func TestNewTracerDisabled(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{}, "pgfroyo", "test", "ci")
	require.NoError(t, err)

	ctx := tracer.OperationStarted(context.Background(), postgres.OpInitDB, "/data")
	assert.Empty(t, TraceID(ctx))
	tracer.OperationFinished(ctx, nil, errors.New("boom"))
	assert.NoError(t, tracer.Shutdown(context.Background()))

	_, err = NewTracer(TracingConfig{Enabled: true, Exporter: "zipkin"}, "pgfroyo", "test", "ci")
	assert.ErrorContains(t, err, "unsupported trace exporter")
}

func TestTelemetryObservers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "pgfroyo.log")
	tel, err := NewTelemetry(cfg)
	require.NoError(t, err)
	assert.Empty(t, tel.Observers())

	cfg = DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "pgfroyo.log")
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "none"
	cfg.Metrics.Enabled = true
	cfg.Metrics.TextfilePath = filepath.Join(t.TempDir(), "pgfroyo.prom")
	tel, err = NewTelemetry(cfg)
	require.NoError(t, err)
	assert.Len(t, tel.Observers(), 2)
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.FileExists(t, cfg.Metrics.TextfilePath)

	cfg.Logging.Level = "nope"
	_, err = NewTelemetry(cfg)
	assert.Error(t, err)
}
