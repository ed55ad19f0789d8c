// Package execxtest provides a recording execx.Runner for tests.
package execxtest

import (
	"context"

	"github.com/openfroyo/pgfroyo/pkg/execx"
)

// Fake records every invocation and answers with Respond.
// A nil Respond yields an empty successful result.
type Fake struct {
	Calls   []execx.Invocation
	Respond func(inv execx.Invocation) (*execx.Result, error)
}

// Run implements execx.Runner.
func (f *Fake) Run(_ context.Context, inv execx.Invocation) (*execx.Result, error) {
	f.Calls = append(f.Calls, inv)
	if f.Respond == nil {
		return &execx.Result{}, nil
	}
	return f.Respond(inv)
}

// Commands returns the display form of every recorded invocation.
func (f *Fake) Commands() []string {
	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		out = append(out, c.String())
	}
	return out
}

// Reset forgets recorded calls.
func (f *Fake) Reset() {
	f.Calls = nil
}

// Exit returns a result with the given exit code and stdout.
func Exit(code int, stdout string) *execx.Result {
	return &execx.Result{ExitCode: code, Stdout: stdout}
}
