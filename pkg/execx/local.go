package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LocalRunner runs commands on the local host.
// Invocations for another user are wrapped with non-interactive sudo.
type LocalRunner struct {
	logger      zerolog.Logger
	currentUser string
	sudoPath    string
}

// NewLocalRunner creates a runner for the local host.
func NewLocalRunner(logger zerolog.Logger) *LocalRunner {
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return &LocalRunner{
		logger:      logger.With().Str("component", "execx").Logger(),
		currentUser: name,
		sudoPath:    "sudo",
	}
}

// Run executes inv and waits for it to exit.
func (r *LocalRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if inv.Program == "" {
		return nil, fmt.Errorf("program is required")
	}

	program, args, env := r.wrap(inv)
	cmd := exec.CommandContext(ctx, program, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	if inv.Stdin != "" {
		cmd.Stdin = strings.NewReader(inv.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	ev := r.logger.Debug().Str("user", inv.User)
	if inv.Sensitive {
		ev.Str("program", inv.Program).Msg("executing sensitive command")
	} else {
		ev.Str("command", inv.String()).Msg("executing command")
	}

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to execute %s: %w", inv.Program, err)
	}
	return result, nil
}

// wrap returns the program, arguments and extra environment actually executed.
// sudo resets the environment, so the extra variables are named in
// --preserve-env and their values stay out of the argument list.
func (r *LocalRunner) wrap(inv Invocation) (string, []string, []string) {
	env := inv.EnvList()
	if inv.User == "" || inv.User == r.currentUser {
		return inv.Program, inv.Args, env
	}

	args := []string{"-n", "-H", "-u", inv.User}
	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for _, kv := range env {
			k, _, _ := strings.Cut(kv, "=")
			keys = append(keys, k)
		}
		args = append(args, "--preserve-env="+strings.Join(keys, ","))
	}
	args = append(args, "--", inv.Program)
	args = append(args, inv.Args...)
	return r.sudoPath, args, env
}
