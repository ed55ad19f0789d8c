package postgres

import (
	"context"
	"strconv"
	"time"
)

// PlatformFamily identifies the host's distribution family.
type PlatformFamily string

const (
	PlatformRHEL   PlatformFamily = "rhel"
	PlatformFedora PlatformFamily = "fedora"
	PlatformAmazon PlatformFamily = "amazon"
	PlatformDebian PlatformFamily = "debian"
	PlatformOther  PlatformFamily = "other"
)

// ParsePlatformFamily maps a family name to a PlatformFamily.
// Anything that is not a known family becomes PlatformOther.
func ParsePlatformFamily(s string) PlatformFamily {
	switch p := PlatformFamily(s); p {
	case PlatformRHEL, PlatformFedora, PlatformAmazon, PlatformDebian:
		return p
	default:
		return PlatformOther
	}
}

// RHELFamily reports whether p uses the rpm-based layout under /var/lib/pgsql.
func (p PlatformFamily) RHELFamily() bool {
	return p == PlatformRHEL || p == PlatformFedora || p == PlatformAmazon
}

// PackageSource is where the installed PostgreSQL packages came from.
type PackageSource string

const (
	// SourceOS means the platform's default package set.
	SourceOS PackageSource = "os"
	// SourceRepo means the PGDG release channel.
	SourceRepo PackageSource = "repo"
)

// ParsePackageSource parses "os" or "repo".
func ParsePackageSource(s string) (PackageSource, error) {
	switch p := PackageSource(s); p {
	case SourceOS, SourceRepo:
		return p, nil
	default:
		return "", NewInvalidSpecError("unknown package source "+strconv.Quote(s), nil)
	}
}

// PackageRole selects the server or client package set.
type PackageRole string

const (
	RoleServer PackageRole = "server"
	RoleClient PackageRole = "client"
)

// ResolvedVersion is the installed major version.
type ResolvedVersion struct {
	Major int `json:"major"`
}

func (v ResolvedVersion) String() string {
	return strconv.Itoa(v.Major)
}

// Package is one entry of the host package inventory.
// An empty Release means the package manager reports none.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Release string `json:"release,omitempty"`
}

// Inventory queries the host's installed package set.
type Inventory interface {
	Packages(ctx context.Context) (map[string]Package, error)
}

// StaticInventory is an Inventory backed by a fixed map.
type StaticInventory map[string]Package

// Packages implements Inventory.
func (s StaticInventory) Packages(context.Context) (map[string]Package, error) {
	return s, nil
}

// ResolvedContext is the host layout derived from one (version, source, platform) triple.
// It is a value type; copies never observe later resolutions.
type ResolvedContext struct {
	Version     ResolvedVersion `json:"version"`
	Source      PackageSource   `json:"source"`
	Platform    PlatformFamily  `json:"platform"`
	DataDir     string          `json:"data_dir"`
	ConfDir     string          `json:"conf_dir"`
	ServiceName string          `json:"service_name"`
}

// DatabaseSpec describes a target database.
type DatabaseSpec struct {
	Database string `json:"database" yaml:"database" mapstructure:"database" validate:"required,pgname"`
	// User is the OS identity commands run as.
	User string `json:"user,omitempty" yaml:"user,omitempty" mapstructure:"user" validate:"omitempty,pgname"`
	// Username is passed to the client tools with -U.
	Username string `json:"username,omitempty" yaml:"username,omitempty" mapstructure:"username" validate:"omitempty,pgname"`
	Encoding string `json:"encoding,omitempty" yaml:"encoding,omitempty" mapstructure:"encoding" validate:"omitempty,pgname"`
	Locale   string `json:"locale,omitempty" yaml:"locale,omitempty" mapstructure:"locale" validate:"omitempty,pgname"`
	Template string `json:"template,omitempty" yaml:"template,omitempty" mapstructure:"template" validate:"omitempty,pgname"`
	Host     string `json:"host,omitempty" yaml:"host,omitempty" mapstructure:"host" validate:"omitempty,pgname"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty" mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Owner    string `json:"owner,omitempty" yaml:"owner,omitempty" mapstructure:"owner" validate:"omitempty,pgname"`
	// Password is exported as PGPASSWORD and never logged.
	Password string `json:"-" yaml:"password,omitempty" mapstructure:"password"`
	// Attributes are applied with ALTER DATABASE ... SET on update.
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty" mapstructure:"attributes" validate:"dive,keys,guc,endkeys,required"`
}

// RoleSpec describes a target role.
type RoleSpec struct {
	Name     string `json:"name" yaml:"name" mapstructure:"name" validate:"required,pgname"`
	User     string `json:"user,omitempty" yaml:"user,omitempty" mapstructure:"user" validate:"omitempty,pgname"`
	Username string `json:"username,omitempty" yaml:"username,omitempty" mapstructure:"username" validate:"omitempty,pgname"`
	Host     string `json:"host,omitempty" yaml:"host,omitempty" mapstructure:"host" validate:"omitempty,pgname"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty" mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	// Password is the role password; "generate" asks for a random one.
	Password        string `json:"-" yaml:"password,omitempty" mapstructure:"password"`
	Superuser       bool   `json:"superuser,omitempty" yaml:"superuser,omitempty" mapstructure:"superuser"`
	CreateDB        bool   `json:"createdb,omitempty" yaml:"createdb,omitempty" mapstructure:"createdb"`
	CreateRole      bool   `json:"createrole,omitempty" yaml:"createrole,omitempty" mapstructure:"createrole"`
	Inherit         bool   `json:"inherit,omitempty" yaml:"inherit,omitempty" mapstructure:"inherit"`
	Login           bool   `json:"login,omitempty" yaml:"login,omitempty" mapstructure:"login"`
	Replication     bool   `json:"replication,omitempty" yaml:"replication,omitempty" mapstructure:"replication"`
	ConnectionLimit int    `json:"connection_limit,omitempty" yaml:"connection_limit,omitempty" mapstructure:"connection_limit" validate:"min=-1"`
	ValidUntil      string `json:"valid_until,omitempty" yaml:"valid_until,omitempty" mapstructure:"valid_until"`
	// Attributes are applied with ALTER ROLE ... SET on update.
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty" mapstructure:"attributes" validate:"dive,keys,guc,endkeys,required"`
}

// InitDBSpec holds the optional initdb inputs.
type InitDBSpec struct {
	Locale            string `json:"locale,omitempty" yaml:"locale,omitempty" mapstructure:"locale"`
	Encoding          string `json:"encoding,omitempty" yaml:"encoding,omitempty" mapstructure:"encoding"`
	AdditionalOptions string `json:"additional_options,omitempty" yaml:"additional_options,omitempty" mapstructure:"additional_options"`
	User              string `json:"user,omitempty" yaml:"user,omitempty" mapstructure:"user"`
}

// Operation names a lifecycle operation.
type Operation string

const (
	OpCreateDatabase Operation = "create_database"
	OpDropDatabase   Operation = "drop_database"
	OpUpdateDatabase Operation = "update_database"
	OpCreateRole     Operation = "create_role"
	OpDropRole       Operation = "drop_role"
	OpUpdateRole     Operation = "update_role"
	OpInitDB         Operation = "initdb"
)

// Actions reported in OperationResult.Action.
const (
	ActionCreated        = "created"
	ActionDropped        = "dropped"
	ActionUpdated        = "updated"
	ActionInitialized    = "initialized"
	ActionAlreadyPresent = "already_present"
	ActionAlreadyAbsent  = "already_absent"
	ActionFailed         = "failed"
)

// OperationResult is the outcome of one lifecycle operation.
type OperationResult struct {
	ID         string        `json:"id"`
	Operation  Operation     `json:"operation"`
	Target     string        `json:"target"`
	Changed    bool          `json:"changed"`
	ExitStatus int           `json:"exit_status"`
	Action     string        `json:"action"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}
