package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/pgfroyo/pkg/config"
	"github.com/openfroyo/pgfroyo/pkg/execx"
	"github.com/openfroyo/pgfroyo/pkg/facts"
	"github.com/openfroyo/pgfroyo/pkg/fsys"
	"github.com/openfroyo/pgfroyo/pkg/pgconn"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
	"github.com/openfroyo/pgfroyo/pkg/service"
	"github.com/openfroyo/pgfroyo/pkg/stores"
	"github.com/openfroyo/pgfroyo/pkg/telemetry"
	sshtransport "github.com/openfroyo/pgfroyo/pkg/transports/ssh"
)

// session holds everything one command needs to act on a host.
type session struct {
	cfg        *config.Config
	sourcePath string
	tel        *telemetry.Telemetry
	logger     zerolog.Logger

	exec   execx.Runner
	files  fsys.Checker
	client *sshtransport.Client
	host   string
	local  bool

	platform facts.Platform

	store    *stores.SQLiteStore
	recorder *stores.Recorder
	prober   *pgconn.Prober

	command string
	span    trace.Span
	started time.Time
}

// loadConfig reads the configuration and applies the global flags.
func loadConfig(cmd *cobra.Command) (*config.LoadResult, error) {
	res, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.BindFlags(cmd, res.Config); err != nil {
		return nil, err
	}
	return res, nil
}

// setupTelemetry builds the logger, tracer and metrics and installs the
// logger as the global zerolog logger.
func setupTelemetry(cfg *config.Config) (*telemetry.Telemetry, error) {
	tcfg := cfg.Telemetry
	if tcfg.ServiceVersion == "" || tcfg.ServiceVersion == "dev" {
		tcfg.ServiceVersion = version
	}
	tel, err := telemetry.NewTelemetry(&tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	log.Logger = tel.Logger
	return tel, nil
}

// openSession loads the configuration, connects to the host, detects its
// platform and opens the journal. The returned context carries the run span.
func openSession(cmd *cobra.Command, command string) (context.Context, *session, error) {
	ctx := cmd.Context()

	res, err := loadConfig(cmd)
	if err != nil {
		return ctx, nil, err
	}
	tel, err := setupTelemetry(res.Config)
	if err != nil {
		return ctx, nil, err
	}

	s := &session{
		cfg:        res.Config,
		sourcePath: res.SourcePath,
		tel:        tel,
		logger:     tel.Logger,
		command:    command,
		started:    time.Now(),
	}

	if err := s.connect(ctx); err != nil {
		s.close(ctx, err)
		return ctx, nil, err
	}

	if err := s.detectPlatform(ctx); err != nil {
		s.close(ctx, err)
		return ctx, nil, err
	}

	runID := ""
	if s.cfg.Journal.Enabled {
		if runID, err = s.openJournal(ctx); err != nil {
			s.close(ctx, err)
			return ctx, nil, err
		}
	}

	ctx, s.span = tel.Tracer.StartRunSpan(ctx, command, runID, s.host)
	if err := tel.Metrics.StartMetricsServer(ctx, s.logger); err != nil {
		s.logger.Warn().Err(err).Msg("failed to start metrics server")
	}

	s.logger.Debug().
		Str("command", command).
		Str("host", s.host).
		Str("platform", string(s.platform.Family)).
		Str("config", s.sourcePath).
		Msg("session opened")
	return ctx, s, nil
}

func (s *session) connect(ctx context.Context) error {
	if s.cfg.Transport == config.TransportSSH {
		client, err := sshtransport.NewClient(&s.cfg.SSH,
			sshtransport.WithLogger(s.logger),
			sshtransport.WithFallbackUser(s.cfg.PostgresUser))
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			return err
		}
		s.client = client
		s.exec = client
		s.files = client
		s.host = s.cfg.SSH.Host
		return nil
	}

	s.exec = execx.NewLocalRunner(s.logger)
	s.files = fsys.NewOSChecker()
	s.local = true
	s.host = "localhost"
	if name, err := os.Hostname(); err == nil {
		s.host = name
	}
	return nil
}

func (s *session) detectPlatform(ctx context.Context) error {
	platform, err := facts.DetectPlatform(ctx, s.exec)
	family, override := s.cfg.PlatformFamily()
	switch {
	case override:
		if err != nil {
			s.logger.Debug().Err(err).Msg("platform detection failed, using configured family")
			platform = facts.Platform{Name: string(family)}
		}
		platform.Family = family
	case err != nil:
		return err
	}
	s.platform = platform
	return nil
}

func (s *session) openJournal(ctx context.Context) (string, error) {
	store, err := stores.NewSQLiteStore(s.cfg.Journal.Config)
	if err != nil {
		return "", fmt.Errorf("failed to open journal: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return "", fmt.Errorf("failed to open journal: %w", err)
	}
	s.store = store
	if err := store.Migrate(ctx); err != nil {
		return "", fmt.Errorf("failed to migrate journal: %w", err)
	}

	s.recorder = stores.NewRecorder(store, s.host, s.logger)
	return s.recorder.StartRun(ctx, s.command, s.sourcePath)
}

// privilegedUser is the identity package and service commands run as.
// Empty means the connecting user, which already is root.
func (s *session) privilegedUser() string {
	if s.local {
		if os.Geteuid() == 0 {
			return ""
		}
		return "root"
	}
	if s.cfg.SSH.User == "root" {
		return ""
	}
	return "root"
}

// resolve determines the PostgreSQL layout from the installed packages.
func (s *session) resolve(ctx context.Context) (postgres.ResolvedContext, error) {
	inventory, err := facts.NewInventory(s.exec, s.platform.Family, s.logger)
	if err != nil {
		return postgres.ResolvedContext{}, err
	}
	return postgres.NewResolver(inventory, s.platform.Family, s.logger).Resolve(ctx)
}

func (s *session) serviceManager() *service.Manager {
	return service.NewManager(s.exec, s.privilegedUser(), s.logger)
}

func (s *session) observers() []postgres.Observer {
	observers := s.tel.Observers()
	if s.recorder != nil {
		observers = append(observers, s.recorder)
	}
	return observers
}

// runner resolves the host and returns a lifecycle runner wired to the
// service notifier, the observers and, when enabled, the SQL prober.
func (s *session) runner(ctx context.Context) (*postgres.Runner, error) {
	rc, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	action, err := service.ParseAction(s.cfg.Service.Action)
	if err != nil {
		return nil, err
	}

	opts := []postgres.RunnerOption{
		postgres.WithFileChecker(s.files),
		postgres.WithLogger(s.logger),
		postgres.WithObserver(s.observers()...),
		postgres.WithNotifier(service.NewNotifier(s.serviceManager(), rc, action)),
	}

	if s.cfg.PGConn.Enabled {
		prober, err := s.sqlProber(ctx)
		if err != nil {
			return nil, err
		}
		// specs aimed at another server fall back to psql on the managed host
		opts = append(opts, postgres.WithProber(prober.WithFallback(postgres.NewCommandProber(s.exec, rc))))
	}

	return postgres.NewRunner(rc, s.exec, opts...), nil
}

// sqlProber connects the SQL prober on first use.
func (s *session) sqlProber(ctx context.Context) (*pgconn.Prober, error) {
	if s.prober == nil {
		prober, err := pgconn.Connect(ctx, s.cfg.PGConn.Config)
		if err != nil {
			return nil, err
		}
		s.prober = prober
	}
	return s.prober, nil
}

// close ends the run: the span, the run metrics and the journal entry.
// Teardown problems are logged; the command result is not changed.
func (s *session) close(ctx context.Context, runErr error) {
	status := string(stores.RunStatusCompleted)
	if runErr != nil {
		status = string(stores.RunStatusFailed)
	}

	if s.span != nil {
		if runErr != nil {
			telemetry.RecordError(s.span, runErr)
		} else {
			telemetry.RecordSuccess(s.span)
		}
		s.span.End()
	}
	s.tel.Metrics.RecordRunCompleted(s.command, status, time.Since(s.started))

	teardown := context.WithoutCancel(ctx)
	if s.recorder != nil {
		if err := s.recorder.FinishRun(teardown, runErr); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close journal run")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close journal")
		}
	}
	if s.prober != nil {
		s.prober.Close()
	}
	if s.client != nil {
		if err := s.client.Disconnect(); err != nil {
			s.logger.Debug().Err(err).Msg("ssh disconnect failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(teardown, 10*time.Second)
	defer cancel()
	if err := s.tel.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}

// withSession runs fn inside an opened session and closes it with fn's result.
func withSession(cmd *cobra.Command, command string, fn func(ctx context.Context, s *session) error) error {
	ctx, s, err := openSession(cmd, command)
	if err != nil {
		return err
	}
	err = fn(ctx, s)
	s.close(ctx, err)
	return err
}
