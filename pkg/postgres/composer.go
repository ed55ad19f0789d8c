package postgres

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// AdminDatabase is the maintenance database psql connects to for catalog queries.
const AdminDatabase = "postgres"

// Composer builds commands for one resolved context. It never executes anything
// and returns identical commands for identical inputs.
type Composer struct {
	rc ResolvedContext
}

// NewComposer returns a composer bound to rc.
func NewComposer(rc ResolvedContext) Composer {
	return Composer{rc: rc}
}

// InitDB builds the initdb command for the resolved data directory.
func (c Composer) InitDB(spec InitDBSpec) (Command, error) {
	program := "/usr/bin/initdb"
	if c.rc.Source == SourceRepo {
		program = fmt.Sprintf("/usr/pgsql-%d/bin/initdb", c.rc.Version.Major)
	}

	extra, err := shlex.Split(spec.AdditionalOptions)
	if err != nil {
		return Command{}, NewInvalidSpecError("unable to parse initdb additional options", err)
	}

	return Command{
		Program: program,
		Args: compose(
			ifSet("--locale", spec.Locale),
			ifSet("-E", spec.Encoding),
			when(len(extra) > 0, extra...),
			always("-D", c.rc.DataDir),
		),
	}, nil
}

// CreateDatabase builds the createdb command.
func (c Composer) CreateDatabase(spec DatabaseSpec) Command {
	return Command{
		Program: "createdb",
		Args: compose(
			ifSet("-U", spec.Username),
			ifSet("-E", spec.Encoding),
			ifSet("-l", spec.Locale),
			ifSet("-T", spec.Template),
			ifSet("-h", spec.Host),
			ifSet("-p", port(spec.Port)),
			ifSet("-O", spec.Owner),
			always(spec.Database),
		),
		Env:     c.env(spec.Password),
		secrets: secrets(spec.Password),
	}
}

// DropDatabase builds the dropdb command.
func (c Composer) DropDatabase(spec DatabaseSpec) Command {
	return Command{
		Program: "dropdb",
		Args: compose(
			ifSet("-U", spec.Username),
			ifSet("--host", spec.Host),
			ifSet("--port", port(spec.Port)),
			always(spec.Database),
		),
		Env:     c.env(spec.Password),
		secrets: secrets(spec.Password),
	}
}

// DatabaseExists builds the catalog query that prints the database name when it exists.
func (c Composer) DatabaseExists(spec DatabaseSpec) Command {
	return c.psql(spec.Username, spec.Host, spec.Port, spec.Password,
		[]string{"name=" + spec.Database},
		"SELECT datname FROM pg_database WHERE datname = :'name';\n")
}

// RoleExists builds the catalog query that prints the role name when it exists.
func (c Composer) RoleExists(spec RoleSpec) Command {
	return c.psql(spec.Username, spec.Host, spec.Port, "",
		[]string{"name=" + spec.Name},
		"SELECT rolname FROM pg_roles WHERE rolname = :'name';\n")
}

// CreateRole builds the CREATE ROLE script. The role password is only ever
// placed on stdin.
func (c Composer) CreateRole(spec RoleSpec) Command {
	var script strings.Builder
	if spec.Password != "" {
		fmt.Fprintf(&script, "\\set password %s\n", psqlQuote(spec.Password))
	}
	script.WriteString(`CREATE ROLE :"name"`)
	script.WriteString(roleOptions(spec))
	script.WriteString(";\n")

	cmd := c.psql(spec.Username, spec.Host, spec.Port, "", roleVars(spec), script.String())
	cmd.secrets = secrets(spec.Password)
	return cmd
}

// DropRole builds the DROP ROLE script.
func (c Composer) DropRole(spec RoleSpec) Command {
	return c.psql(spec.Username, spec.Host, spec.Port, "",
		[]string{"name=" + spec.Name},
		"DROP ROLE :\"name\";\n")
}

// AlterRole builds the script that reapplies role options and the given
// per-role settings. Keys must be configuration parameter names.
func (c Composer) AlterRole(spec RoleSpec, attributes map[string]string) (Command, error) {
	var script strings.Builder
	if spec.Password != "" {
		fmt.Fprintf(&script, "\\set password %s\n", psqlQuote(spec.Password))
	}
	if opts := roleOptions(spec); opts != "" {
		fmt.Fprintf(&script, "ALTER ROLE :\"name\"%s;\n", opts)
	}

	vars := roleVars(spec)
	settings, settingVars, err := settingStatements(`ALTER ROLE :"name"`, attributes)
	if err != nil {
		return Command{}, err
	}
	script.WriteString(settings)
	vars = append(vars, settingVars...)

	cmd := c.psql(spec.Username, spec.Host, spec.Port, "", vars, script.String())
	cmd.secrets = secrets(spec.Password)
	return cmd, nil
}

// AlterDatabase builds the script applying per-database settings.
func (c Composer) AlterDatabase(spec DatabaseSpec, attributes map[string]string) (Command, error) {
	settings, vars, err := settingStatements(`ALTER DATABASE :"name"`, attributes)
	if err != nil {
		return Command{}, err
	}
	return c.psql(spec.Username, spec.Host, spec.Port, spec.Password,
		append([]string{"name=" + spec.Database}, vars...), settings), nil
}

// psql builds a psql invocation against the admin database with the script on stdin.
func (c Composer) psql(username, host string, p int, password string, vars []string, script string) Command {
	varArgs := make([]string, 0, 2*len(vars))
	for _, v := range vars {
		varArgs = append(varArgs, "-v", v)
	}
	return Command{
		Program: "psql",
		Args: compose(
			always("-X", "-q", "-t", "-A", "-v", "ON_ERROR_STOP=1"),
			ifSet("-U", username),
			ifSet("--host", host),
			ifSet("--port", port(p)),
			always("-d", AdminDatabase),
			when(len(varArgs) > 0, varArgs...),
		),
		Env:     c.env(password),
		Stdin:   script,
		secrets: secrets(password),
	}
}

// env returns the extra environment for client tools, or nil.
func (c Composer) env(password string) map[string]string {
	env := map[string]string{}
	if password != "" {
		env["PGPASSWORD"] = password
	}
	if c.rc.Platform == PlatformFedora {
		env["LD_LIBRARY_PATH"] = "/usr/lib64"
	}
	if len(env) == 0 {
		return nil
	}
	return env
}

func roleVars(spec RoleSpec) []string {
	vars := []string{"name=" + spec.Name}
	if spec.ValidUntil != "" {
		vars = append(vars, "valid_until="+spec.ValidUntil)
	}
	return vars
}

func roleOptions(spec RoleSpec) string {
	opts := compose(
		when(spec.Superuser, "SUPERUSER"),
		when(spec.CreateDB, "CREATEDB"),
		when(spec.CreateRole, "CREATEROLE"),
		when(spec.Inherit, "INHERIT"),
		when(spec.Login, "LOGIN"),
		when(spec.Replication, "REPLICATION"),
		when(spec.ConnectionLimit != 0, "CONNECTION LIMIT "+strconv.Itoa(spec.ConnectionLimit)),
		when(spec.ValidUntil != "", "VALID UNTIL :'valid_until'"),
		when(spec.Password != "", "PASSWORD :'password'"),
	)
	if len(opts) == 0 {
		return ""
	}
	return " WITH " + strings.Join(opts, " ")
}

// settingStatements renders one SET statement per attribute in key order.
func settingStatements(prefix string, attributes map[string]string) (string, []string, error) {
	keys := make([]string, 0, len(attributes))
	for k := range attributes {
		if !gucPattern.MatchString(k) {
			return "", nil, NewInvalidSpecError(fmt.Sprintf("invalid configuration parameter name %q", k), nil)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var script strings.Builder
	vars := make([]string, 0, len(keys))
	for i, k := range keys {
		vars = append(vars, fmt.Sprintf("setting_%d=%s", i, attributes[k]))
		fmt.Fprintf(&script, "%s SET %s = :'setting_%d';\n", prefix, k, i)
	}
	return script.String(), vars, nil
}

// psqlQuote quotes a value for a psql backslash command argument.
func psqlQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `''`, "\n", `\n`, "\r", `\r`)
	return "'" + r.Replace(s) + "'"
}

func port(p int) string {
	if p == 0 {
		return ""
	}
	return strconv.Itoa(p)
}

func secrets(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
