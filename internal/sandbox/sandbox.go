// Package sandbox provides sandbox configuration types for the agent process.
package sandbox

import (
	"strings"

	"github.com/wagiedev/codex-relay/internal/errors"
)

// Mode is the filesystem sandbox the agent runs its commands in.
type Mode string

const (
	// ModeReadOnly allows reading the workspace only.
	ModeReadOnly Mode = "read-only"
	// ModeWorkspaceWrite allows writes inside the working directory and writable roots.
	ModeWorkspaceWrite Mode = "workspace-write"
	// ModeDangerFullAccess disables the sandbox.
	ModeDangerFullAccess Mode = "danger-full-access"
)

// Modes lists every accepted mode in wire form.
var Modes = []Mode{ModeReadOnly, ModeWorkspaceWrite, ModeDangerFullAccess}

// ParseMode validates a sandbox mode. camelCase and snake_case spellings
// are accepted.
func ParseMode(m string) (Mode, error) {
	normalized := strings.TrimSpace(m)

	switch normalized {
	case "readOnly", "read_only":
		normalized = string(ModeReadOnly)
	case "workspaceWrite", "workspace_write":
		normalized = string(ModeWorkspaceWrite)
	case "dangerFullAccess", "danger_full_access":
		normalized = string(ModeDangerFullAccess)
	}

	for _, allowed := range Modes {
		if Mode(normalized) == allowed {
			return allowed, nil
		}
	}

	names := make([]string, len(Modes))
	for i, allowed := range Modes {
		names[i] = string(allowed)
	}

	return "", &errors.ValidationError{Field: "sandbox mode", Value: m, Allowed: names}
}

// WorkspaceWrite tunes ModeWorkspaceWrite.
type WorkspaceWrite struct {
	WritableRoots []string `toml:"writable_roots,omitempty"`
	NetworkAccess bool     `toml:"network_access"`
}
