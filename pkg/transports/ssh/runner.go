package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/pgfroyo/pkg/execx"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Run implements execx.Runner. Each invocation gets its own session.
// Environment values never appear on the remote command line; they are
// written as the first lines of stdin and exported by a small sh prologue.
func (c *Client) Run(ctx context.Context, inv execx.Invocation) (*execx.Result, error) {
	command, stdin, err := remoteCommand(inv)
	if err != nil {
		return nil, &TransportError{Op: "exec", Err: err}
	}

	logEvent := c.logger.Debug().Str("user", inv.User)
	if !inv.Sensitive {
		logEvent = logEvent.Str("command", inv.String())
	}
	logEvent.Msg("executing remote command")

	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		return nil, &TransportError{Op: "exec", Err: ctx.Err()}
	case runErr = <-done:
	}

	res := &execx.Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	c.logger.Debug().
		Int("stdout_len", len(res.Stdout)).
		Int("stderr_len", len(res.Stderr)).
		Dur("duration", res.Duration).
		Err(runErr).
		Msg("remote command completed")

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return nil, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
	}
	return res, nil
}

// remoteCommand renders inv as a shell command line plus the stdin to feed it.
func remoteCommand(inv execx.Invocation) (string, string, error) {
	if inv.Program == "" {
		return "", "", fmt.Errorf("program is required")
	}

	var words []string
	if inv.User != "" {
		words = append(words, "sudo", "-n", "-H", "-u", execx.Quote(inv.User), "--")
	}

	var stdin strings.Builder
	if len(inv.Env) > 0 {
		keys, err := envKeys(inv)
		if err != nil {
			return "", "", err
		}
		var script strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&script, "IFS= read -r %s && export %s && ", k, k)
			stdin.WriteString(inv.Env[k])
			stdin.WriteByte('\n')
		}
		script.WriteString(`exec "$0" "$@"`)
		words = append(words, "sh", "-c", execx.Quote(script.String()))
	}
	stdin.WriteString(inv.Stdin)

	words = append(words, execx.Quote(inv.Program))
	for _, a := range inv.Args {
		words = append(words, execx.Quote(a))
	}
	return strings.Join(words, " "), stdin.String(), nil
}

func envKeys(inv execx.Invocation) ([]string, error) {
	list := inv.EnvList()
	keys := make([]string, 0, len(list))
	for _, kv := range list {
		k, _, _ := strings.Cut(kv, "=")
		if !envKeyPattern.MatchString(k) {
			return nil, fmt.Errorf("invalid environment variable name %q", k)
		}
		if strings.ContainsAny(inv.Env[k], "\n\r") {
			return nil, fmt.Errorf("environment variable %s contains a line break", k)
		}
		keys = append(keys, k)
	}
	return keys, nil
}
