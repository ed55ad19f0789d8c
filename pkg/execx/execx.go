// Package execx is the process-execution facility used by pgfroyo.
// Commands are passed as argument vectors and never through a shell, optionally
// under a different OS user identity.
package execx

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Invocation describes a single external command to run.
type Invocation struct {
	// Program is the executable name or absolute path.
	Program string

	// Args are passed to the program verbatim.
	Args []string

	// Env holds extra environment variables. Values are never logged.
	Env map[string]string

	// Stdin is written to the process standard input when non-empty.
	Stdin string

	// User is the OS identity to run as. Empty means the current user.
	User string

	// Sensitive suppresses the command line from logs.
	Sensitive bool
}

// Result holds the outcome of a finished process.
// A non-zero ExitCode is not reported as an error by Runner implementations.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports whether the process exited with status 0.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Runner executes invocations and blocks until they exit.
// An error is returned only when the process could not be started or waited on;
// timeouts and cancellation come from ctx.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// String renders the invocation for display. Environment and stdin are omitted.
func (inv Invocation) String() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, Quote(inv.Program))
	for _, a := range inv.Args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// EnvList returns Env as sorted KEY=VALUE pairs.
func (inv Invocation) EnvList() []string {
	keys := make([]string, 0, len(inv.Env))
	for k := range inv.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+inv.Env[k])
	}
	return out
}

const shellSafe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_./:=@%+,"

// Quote returns arg quoted for a POSIX shell when it contains anything but safe characters.
func Quote(arg string) string {
	if arg == "" {
		return "''"
	}
	safe := true
	for _, r := range arg {
		if !strings.ContainsRune(shellSafe, r) {
			safe = false
			break
		}
	}
	if safe {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
