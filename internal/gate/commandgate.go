// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package gate

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// DefaultAllowedCommands are the commands an unauthenticated identity may
// always run: the authentication commands themselves and their common
// aliases.
var DefaultAllowedCommands = []string{
	"login",
	"register",
	"changepassword",
	"l",
	"reg",
}

// allowedPattern pairs a configured pattern with its compiled glob.
type allowedPattern struct {
	pattern string
	glob    glob.Glob
}

// CommandGate decides which commands an unauthenticated identity may run.
// Patterns are globs matched against the lowercased command name, so an
// operator can allowlist "help*" as easily as a literal command.
type CommandGate struct {
	patterns []allowedPattern
}

// NewCommandGate compiles the allowlist. A nil or empty pattern list falls
// back to DefaultAllowedCommands.
func NewCommandGate(patterns []string) (*CommandGate, error) {
	if len(patterns) == 0 {
		patterns = DefaultAllowedCommands
	}

	compiled := make([]allowedPattern, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, oops.Code("GATE_INVALID_COMMAND_PATTERN").
				With("pattern", p).
				Wrap(err)
		}
		compiled = append(compiled, allowedPattern{pattern: p, glob: g})
	}

	return &CommandGate{patterns: compiled}, nil
}

// Allowed reports whether the command is on the allowlist. The input may be
// a full command line; only the first word decides, with any leading slash
// stripped and case ignored.
func (g *CommandGate) Allowed(command string) bool {
	name := commandName(command)
	if name == "" {
		return false
	}
	for _, p := range g.patterns {
		if p.glob.Match(name) {
			return true
		}
	}
	return false
}

// commandName extracts the lowercased command name from a command line.
func commandName(command string) string {
	command = strings.TrimPrefix(command, "/")
	if i := strings.IndexByte(command, ' '); i >= 0 {
		command = command[:i]
	}
	return strings.ToLower(command)
}
