package sandbox

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/codex-relay/internal/errors"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Mode
	}{
		{in: "read-only", want: ModeReadOnly},
		{in: "workspaceWrite", want: ModeWorkspaceWrite},
		{in: " danger_full_access ", want: ModeDangerFullAccess},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseMode(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseMode_Invalid(t *testing.T) {
	_, err := ParseMode("none")

	verr, ok := stderrors.AsType[*errors.ValidationError](err)
	require.True(t, ok)
	require.Equal(t, "sandbox mode", verr.Field)
	require.Equal(t, "none", verr.Value)
}
