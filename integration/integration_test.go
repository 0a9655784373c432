//go:build integration

package integration

import (
	"errors"
	"strings"
	"testing"

	relay "github.com/wagiedev/codex-relay"
)

// skipIfAgentNotInstalled skips the test if the error indicates the agent binary is not found.
func skipIfAgentNotInstalled(t *testing.T, err error) {
	t.Helper()

	if _, ok := errors.AsType[*relay.AgentNotFoundError](err); ok {
		t.Skip("agent binary not installed")
	}
}

// contains42 checks if a string contains "42" in various formats.
func contains42(s string) bool {
	lower := strings.ToLower(s)

	return strings.Contains(lower, "42") ||
		strings.Contains(lower, "forty-two") ||
		strings.Contains(lower, "forty two")
}
