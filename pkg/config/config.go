package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/pgfroyo/pkg/pgconn"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
	"github.com/openfroyo/pgfroyo/pkg/service"
	"github.com/openfroyo/pgfroyo/pkg/stores"
	"github.com/openfroyo/pgfroyo/pkg/telemetry"
	sshtransport "github.com/openfroyo/pgfroyo/pkg/transports/ssh"
)

// Transport selects where commands run.
type Transport string

const (
	TransportLocal Transport = "local"
	TransportSSH   Transport = "ssh"
)

// State is the desired presence of a database or role.
type State string

const (
	StatePresent State = "present"
	StateAbsent  State = "absent"
)

// Config is the complete pgfroyo configuration. The databases and roles
// lists double as the manifest converged by apply.
type Config struct {
	// Transport is "local" or "ssh".
	Transport Transport `mapstructure:"transport" yaml:"transport" validate:"required,oneof=local ssh"`

	// SSH is used when Transport is "ssh".
	SSH sshtransport.Config `mapstructure:"ssh" yaml:"ssh"`

	// PostgresUser is the OS identity that owns the cluster.
	PostgresUser string `mapstructure:"postgres_user" yaml:"postgres_user" validate:"required"`

	// Platform overrides the detected platform family when set.
	Platform string `mapstructure:"platform" yaml:"platform,omitempty" validate:"omitempty,oneof=rhel fedora amazon debian"`

	Install   InstallConfig       `mapstructure:"install" yaml:"install"`
	InitDB    postgres.InitDBSpec `mapstructure:"initdb" yaml:"initdb"`
	Service   ServiceConfig       `mapstructure:"service" yaml:"service"`
	PGConn    PGConnConfig        `mapstructure:"pgconn" yaml:"pgconn"`
	Journal   JournalConfig       `mapstructure:"journal" yaml:"journal"`
	Telemetry telemetry.Config    `mapstructure:"telemetry" yaml:"telemetry"`

	Databases []DatabaseEntry `mapstructure:"databases" yaml:"databases,omitempty"`
	Roles     []RoleEntry     `mapstructure:"roles" yaml:"roles,omitempty"`
}

// InstallConfig selects the package set ensured by install.
type InstallConfig struct {
	Role    string   `mapstructure:"role" yaml:"role" validate:"oneof=server client"`
	Version string   `mapstructure:"version" yaml:"version,omitempty"`
	Source  string   `mapstructure:"source" yaml:"source" validate:"oneof=os repo"`
	Options []string `mapstructure:"options" yaml:"options,omitempty"`
}

// ServiceConfig controls the reaction to a changed operation.
type ServiceConfig struct {
	Action string `mapstructure:"action" yaml:"action" validate:"omitempty,oneof=reload restart none"`
}

// PGConnConfig enables SQL existence probes instead of psql.
type PGConnConfig struct {
	Enabled       bool `mapstructure:"enabled" yaml:"enabled"`
	pgconn.Config `mapstructure:",squash" yaml:",inline"`
}

// JournalConfig enables the SQLite operation journal.
type JournalConfig struct {
	Enabled       bool `mapstructure:"enabled" yaml:"enabled"`
	stores.Config `mapstructure:",squash" yaml:",inline"`
}

// DatabaseEntry is one database of the manifest.
type DatabaseEntry struct {
	postgres.DatabaseSpec `mapstructure:",squash" yaml:",inline"`
	State                 State `mapstructure:"state" yaml:"state,omitempty"`
}

// RoleEntry is one role of the manifest.
type RoleEntry struct {
	postgres.RoleSpec `mapstructure:",squash" yaml:",inline"`
	State             State `mapstructure:"state" yaml:"state,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Transport:    TransportLocal,
		SSH:          *sshtransport.DefaultConfig("", "root"),
		PostgresUser: postgres.DefaultOSUser,
		Install: InstallConfig{
			Role:   string(postgres.RoleServer),
			Source: string(postgres.SourceOS),
		},
		Service: ServiceConfig{Action: string(service.ActionReload)},
		PGConn: PGConnConfig{
			Config: pgconn.Config{
				Host:     "localhost",
				Port:     5432,
				User:     postgres.DefaultOSUser,
				Database: postgres.AdminDatabase,
				SSLMode:  "prefer",
			},
		},
		Journal: JournalConfig{
			Config: stores.Config{Path: "/var/lib/pgfroyo/journal.db"},
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks the configuration. Database and role entries are checked
// with the same rules the lifecycle operations apply.
func (c *Config) Validate() error {
	if err := configValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Transport == TransportSSH {
		if err := c.SSH.Validate(); err != nil {
			return fmt.Errorf("invalid ssh configuration: %w", err)
		}
	}

	if postgres.PackageSource(c.Install.Source) == postgres.SourceRepo || c.Install.Version != "" {
		if err := postgres.ValidateVersion(c.Install.Version); err != nil {
			return fmt.Errorf("invalid install configuration: %w", err)
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal path is required when the journal is enabled")
	}

	seen := make(map[string]bool)
	for i, db := range c.Databases {
		if err := validState(db.State); err != nil {
			return fmt.Errorf("databases[%d]: %w", i, err)
		}
		if err := db.Validate(); err != nil {
			return fmt.Errorf("databases[%d]: %w", i, err)
		}
		if seen[db.Database] {
			return fmt.Errorf("databases[%d]: duplicate database %q", i, db.Database)
		}
		seen[db.Database] = true
	}

	seen = make(map[string]bool)
	for i, role := range c.Roles {
		if err := validState(role.State); err != nil {
			return fmt.Errorf("roles[%d]: %w", i, err)
		}
		if err := role.Validate(); err != nil {
			return fmt.Errorf("roles[%d]: %w", i, err)
		}
		if seen[role.Name] {
			return fmt.Errorf("roles[%d]: duplicate role %q", i, role.Name)
		}
		seen[role.Name] = true
	}

	return nil
}

func validState(s State) error {
	switch s {
	case "", StatePresent, StateAbsent:
		return nil
	default:
		return fmt.Errorf("invalid state %q (must be present or absent)", s)
	}
}

// Present reports whether the entry should exist. An empty state means present.
func (e DatabaseEntry) Present() bool { return e.State != StateAbsent }

// Present reports whether the entry should exist. An empty state means present.
func (e RoleEntry) Present() bool { return e.State != StateAbsent }

// PlatformFamily returns the configured platform override, if any.
func (c *Config) PlatformFamily() (postgres.PlatformFamily, bool) {
	if c.Platform == "" {
		return "", false
	}
	return postgres.ParsePlatformFamily(strings.ToLower(c.Platform)), true
}

// InstallSource returns the parsed package source.
func (c *Config) InstallSource() postgres.PackageSource {
	return postgres.PackageSource(c.Install.Source)
}

// DatabaseSpec applies the configured OS identity to a spec that has none.
func (c *Config) DatabaseSpec(spec postgres.DatabaseSpec) postgres.DatabaseSpec {
	if spec.User == "" {
		spec.User = c.PostgresUser
	}
	return spec
}

// RoleSpec applies the configured OS identity to a spec that has none.
func (c *Config) RoleSpec(spec postgres.RoleSpec) postgres.RoleSpec {
	if spec.User == "" {
		spec.User = c.PostgresUser
	}
	return spec
}

// InitDBSpec returns the initdb inputs with the configured OS identity.
func (c *Config) InitDBSpec() postgres.InitDBSpec {
	spec := c.InitDB
	if spec.User == "" {
		spec.User = c.PostgresUser
	}
	return spec
}

// redactedValue replaces secrets in Redacted output.
const redactedValue = "********"

func redact(s string) string {
	if s == "" || s == postgres.GeneratePassword {
		return s
	}
	return redactedValue
}

// Redacted returns a copy of c with every password and passphrase masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.SSH.Password = redact(c.SSH.Password)
	out.SSH.PrivateKeyPassphrase = redact(c.SSH.PrivateKeyPassphrase)
	out.SSH.ProxyPassword = redact(c.SSH.ProxyPassword)
	out.PGConn.Password = redact(c.PGConn.Password)

	out.Databases = make([]DatabaseEntry, len(c.Databases))
	for i, e := range c.Databases {
		e.Password = redact(e.Password)
		out.Databases[i] = e
	}
	out.Roles = make([]RoleEntry, len(c.Roles))
	for i, e := range c.Roles {
		e.Password = redact(e.Password)
		out.Roles[i] = e
	}
	return &out
}
