// Package service talks to systemd about the PostgreSQL unit and turns change
// signals from lifecycle operations into reloads or restarts.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pgfroyo/pkg/execx"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// Action is what happens to the unit when a change is signalled.
type Action string

const (
	ActionReload  Action = "reload"
	ActionRestart Action = "restart"
	ActionNone    Action = "none"
)

// ParseAction parses a configured action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionReload, ActionRestart, ActionNone:
		return a, nil
	case "":
		return ActionReload, nil
	default:
		return "", fmt.Errorf("invalid service action: %s", s)
	}
}

// Status is the systemd view of a unit.
type Status struct {
	Name     string `json:"name"`
	Active   string `json:"active"`
	SubState string `json:"sub_state"`
	Enabled  bool   `json:"enabled"`
}

// Running reports whether the unit is active.
func (s Status) Running() bool {
	return s.Active == "active"
}

// Manager runs systemctl through the process facility.
type Manager struct {
	runner execx.Runner
	user   string
	logger zerolog.Logger
}

// NewManager creates a manager. user is the identity systemctl runs as; empty
// means the current user.
func NewManager(runner execx.Runner, user string, logger zerolog.Logger) *Manager {
	return &Manager{
		runner: runner,
		user:   user,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Status returns the state of a unit. Unknown units report "inactive" or "unknown"
// rather than an error, matching systemctl.
func (m *Manager) Status(ctx context.Context, name string) (Status, error) {
	st := Status{Name: name}

	active, err := m.query(ctx, "is-active", name)
	if err != nil {
		return st, err
	}
	st.Active = active

	enabled, err := m.query(ctx, "is-enabled", name)
	if err != nil {
		return st, err
	}
	st.Enabled = enabled == "enabled"

	sub, err := m.query(ctx, "show", "-p", "SubState", "--value", name)
	if err != nil {
		return st, err
	}
	st.SubState = sub
	return st, nil
}

// Reload reloads the unit.
func (m *Manager) Reload(ctx context.Context, name string) error {
	return m.control(ctx, "reload", name)
}

// Restart restarts the unit.
func (m *Manager) Restart(ctx context.Context, name string) error {
	return m.control(ctx, "restart", name)
}

func (m *Manager) query(ctx context.Context, args ...string) (string, error) {
	res, err := m.runner.Run(ctx, execx.Invocation{Program: "systemctl", Args: args, User: m.user})
	if err != nil {
		return "", fmt.Errorf("failed to run systemctl %s: %w", args[0], err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (m *Manager) control(ctx context.Context, verb, name string) error {
	inv := execx.Invocation{Program: "systemctl", Args: []string{verb, name}, User: m.user}
	res, err := m.runner.Run(ctx, inv)
	if err != nil {
		return fmt.Errorf("failed to %s service %s: %w", verb, name, err)
	}
	if !res.Success() {
		return fmt.Errorf("failed to %s service %s: exit status %d: %s", verb, name, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	m.logger.Info().Str("service", name).Str("action", verb).Msg("service " + verb + "ed")
	return nil
}

// Notifier reloads or restarts the PostgreSQL unit when an operation changed the host.
// It implements postgres.Notifier.
type Notifier struct {
	manager *Manager
	name    string
	action  Action
}

// NewNotifier creates a notifier for the unit of rc.
func NewNotifier(manager *Manager, rc postgres.ResolvedContext, action Action) *Notifier {
	return &Notifier{manager: manager, name: rc.ServiceName, action: action}
}

// Notify implements postgres.Notifier. A stopped unit is left alone.
func (n *Notifier) Notify(ctx context.Context, result *postgres.OperationResult) error {
	if n.action == ActionNone || !result.Changed {
		return nil
	}

	st, err := n.manager.Status(ctx, n.name)
	if err != nil {
		return err
	}
	if !st.Running() {
		n.manager.logger.Debug().
			Str("service", n.name).
			Str("operation", string(result.Operation)).
			Msg("service not running, skipping " + string(n.action))
		return nil
	}

	if n.action == ActionRestart {
		return n.manager.Restart(ctx, n.name)
	}
	return n.manager.Reload(ctx, n.name)
}
