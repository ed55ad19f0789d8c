// Package pgconn answers existence checks over a direct SQL connection
// instead of shelling out to psql. Queries are parameterized.
package pgconn

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

const defaultPort = 5432

// Config holds connection settings. Password is never part of the DSN.
type Config struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	User           string        `mapstructure:"user" yaml:"user"`
	Password       string        `mapstructure:"password" yaml:"password,omitempty"`
	Database       string        `mapstructure:"database" yaml:"database"`
	SSLMode        string        `mapstructure:"sslmode" yaml:"sslmode"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// DSN renders the connection URL without credentials.
func (c Config) DSN() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	if c.Port != 0 {
		host += ":" + strconv.Itoa(c.Port)
	}
	db := c.Database
	if db == "" {
		db = postgres.AdminDatabase
	}

	u := url.URL{Scheme: "postgres", Host: host, Path: "/" + db}
	if c.User != "" {
		u.User = url.User(c.User)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Prober implements postgres.Prober with a pgx connection pool. Specs
// naming another server than the pool's go to the fallback prober, or
// fail with an invalid_spec error when there is none.
type Prober struct {
	pool     *pgxpool.Pool
	host     string
	port     uint16
	fallback postgres.Prober
}

// Connect opens a small pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*Prober, error) {
	return connect(ctx, cfg.DSN(), cfg.Password)
}

func connect(ctx context.Context, dsn, password string) (*Prober, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid connection settings: %w", err)
	}
	if password != "" {
		poolConfig.ConnConfig.Password = password
	}
	poolConfig.MaxConns = 2
	poolConfig.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s:%d: %w",
			poolConfig.ConnConfig.Host, poolConfig.ConnConfig.Port, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to %s:%d: %w",
			poolConfig.ConnConfig.Host, poolConfig.ConnConfig.Port, err)
	}
	return &Prober{
		pool: pool,
		host: poolConfig.ConnConfig.Host,
		port: poolConfig.ConnConfig.Port,
	}, nil
}

// WithFallback returns a copy of p that hands checks for other servers to
// fallback. The copy shares the pool.
func (p *Prober) WithFallback(fallback postgres.Prober) *Prober {
	cp := *p
	cp.fallback = fallback
	return &cp
}

// serves reports whether a spec naming host and port reaches the pool's
// server. An empty host and a zero port leave the connection default.
func (p *Prober) serves(host string, port int) bool {
	if host != "" && !sameHost(host, p.host) {
		return false
	}
	if port != 0 {
		want := int(p.port)
		if want == 0 {
			want = defaultPort
		}
		if port != want {
			return false
		}
	}
	return true
}

func sameHost(a, b string) bool {
	if a == b {
		return true
	}
	return isLocal(a) && isLocal(b)
}

func isLocal(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.HasPrefix(host, "/")
}

func (p *Prober) elsewhere(host string, port int) error {
	return postgres.NewInvalidSpecError(fmt.Sprintf(
		"existence check targets %s but the SQL connection is %s",
		endpoint(host, port), endpoint(p.host, int(p.port))), nil)
}

func endpoint(host string, port int) string {
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Close releases the pool.
func (p *Prober) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// DatabaseExists implements postgres.Prober.
func (p *Prober) DatabaseExists(ctx context.Context, spec postgres.DatabaseSpec) (bool, error) {
	if !p.serves(spec.Host, spec.Port) {
		if p.fallback != nil {
			return p.fallback.DatabaseExists(ctx, spec)
		}
		return false, p.elsewhere(spec.Host, spec.Port)
	}
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, spec.Database)
}

// RoleExists implements postgres.Prober.
func (p *Prober) RoleExists(ctx context.Context, spec postgres.RoleSpec) (bool, error) {
	if !p.serves(spec.Host, spec.Port) {
		if p.fallback != nil {
			return p.fallback.RoleExists(ctx, spec)
		}
		return false, p.elsewhere(spec.Host, spec.Port)
	}
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`, spec.Name)
}

func (p *Prober) exists(ctx context.Context, query, name string) (bool, error) {
	var exists bool
	if err := p.pool.QueryRow(ctx, query, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("existence check for %s: %w", name, err)
	}
	return exists, nil
}

// ServerVersion returns the major version of the connected server.
func (p *Prober) ServerVersion(ctx context.Context) (postgres.ResolvedVersion, error) {
	var num string
	if err := p.pool.QueryRow(ctx, `SHOW server_version_num`).Scan(&num); err != nil {
		return postgres.ResolvedVersion{}, fmt.Errorf("failed to query server version: %w", err)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return postgres.ResolvedVersion{}, fmt.Errorf("unexpected server_version_num %q: %w", num, err)
	}
	return postgres.ResolvedVersion{Major: n / 10000}, nil
}

// InRecovery reports whether the server is a standby.
func (p *Prober) InRecovery(ctx context.Context) (bool, error) {
	var recovery bool
	if err := p.pool.QueryRow(ctx, `SELECT pg_is_in_recovery()`).Scan(&recovery); err != nil {
		return false, fmt.Errorf("failed to query recovery state: %w", err)
	}
	return recovery, nil
}
