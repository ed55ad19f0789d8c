package postgres

import (
	"sort"
	"strings"

	"github.com/openfroyo/pgfroyo/pkg/execx"
)

// Command is a composed, not yet executed, external command.
// Secrets only ever travel in Env or Stdin.
type Command struct {
	Program string
	Args    []string
	Env     map[string]string
	Stdin   string

	secrets []string
}

// String renders the command line for display.
func (c Command) String() string {
	return execx.Invocation{Program: c.Program, Args: c.Args}.String()
}

// Redacted renders the command line with every secret value masked.
func (c Command) Redacted() string {
	return c.redact(c.String())
}

// redact masks every secret value occurring in s, including the escaped
// forms psql and the server echo back inside SQL literals.
func (c Command) redact(s string) string {
	for _, secret := range c.secrets {
		for _, form := range secretForms(secret) {
			s = strings.ReplaceAll(s, form, "******")
		}
	}
	return s
}

// secretForms returns the distinct spellings of secret, longest first.
func secretForms(secret string) []string {
	if secret == "" {
		return nil
	}
	quotes := strings.ReplaceAll(secret, `'`, `''`)
	backslashes := strings.ReplaceAll(secret, `\`, `\\`)
	both := strings.ReplaceAll(backslashes, `'`, `''`)
	literal := strings.TrimSuffix(strings.TrimPrefix(psqlQuote(secret), "'"), "'")

	var forms []string
	seen := map[string]bool{}
	for _, f := range []string{literal, both, quotes, backslashes, secret} {
		if !seen[f] {
			seen[f] = true
			forms = append(forms, f)
		}
	}
	sort.SliceStable(forms, func(i, j int) bool { return len(forms[i]) > len(forms[j]) })
	return forms
}

// Sensitive reports whether the command carries credentials.
func (c Command) Sensitive() bool {
	return len(c.secrets) > 0
}

// Invocation converts the command into an execx invocation run as user.
func (c Command) Invocation(user string) execx.Invocation {
	return execx.Invocation{
		Program:   c.Program,
		Args:      c.Args,
		Env:       c.Env,
		Stdin:     c.Stdin,
		User:      user,
		Sensitive: c.Sensitive(),
	}
}

// fragment is an argument group included only when its predicate holds.
type fragment struct {
	when bool
	args []string
}

func always(args ...string) fragment {
	return fragment{when: true, args: args}
}

func when(cond bool, args ...string) fragment {
	return fragment{when: cond, args: args}
}

// ifSet includes flag and value when value is non-empty.
func ifSet(flag, value string) fragment {
	return fragment{when: value != "", args: []string{flag, value}}
}

// compose evaluates fragments in order into a fresh argument list.
func compose(fragments ...fragment) []string {
	var args []string
	for _, f := range fragments {
		if f.when {
			args = append(args, f.args...)
		}
	}
	return args
}
