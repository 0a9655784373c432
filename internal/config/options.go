package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/wagiedev/codex-relay/internal/sandbox"
)

const (
	// DefaultTurnTimeout bounds a single turn.
	DefaultTurnTimeout = 10 * time.Minute
	// DefaultInterruptWait bounds the best-effort interrupt after a timeout.
	DefaultInterruptWait = 500 * time.Millisecond
	// DefaultCloseGrace is how long Close waits before killing the process.
	DefaultCloseGrace = time.Second
	// DefaultInitializeTimeout bounds the initialize handshake.
	DefaultInitializeTimeout = 60 * time.Second
	// DefaultClientName is reported to the agent in the handshake.
	DefaultClientName = "codex-relay"
)

// Options configures one agent runtime.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// AgentPath is the explicit path to the agent binary.
	// If empty, the binary is searched in PATH.
	AgentPath string

	// Args are extra arguments appended after the app-server subcommand.
	Args []string

	// Env provides additional environment variables for the agent process.
	Env map[string]string

	// Cwd sets the working directory for the agent process and its threads.
	Cwd string

	// HomeDir is the isolated home exported to the agent.
	// Filled in per runtime from StateDir when empty.
	HomeDir string

	// StateDir is the root under which per-session homes are created.
	// If empty, the OS temp dir is used.
	StateDir string

	// KeepHome keeps the per-session home on close, for debugging.
	KeepHome bool

	// Model overrides the agent's default model.
	Model string

	// ApprovalPolicy is sent with thread/start.
	// Valid values: "untrusted", "on-failure", "on-request", "never".
	ApprovalPolicy string

	// SandboxMode is sent with thread/start.
	// Valid values: "read-only", "workspace-write", "danger-full-access".
	SandboxMode string

	// WorkspaceWrite tunes the workspace-write sandbox.
	WorkspaceWrite *sandbox.WorkspaceWrite

	// ThreadConfig is passed through as thread/start config overrides.
	ThreadConfig map[string]any

	// ToolServerURL is the streamable-HTTP endpoint of the relay's tool
	// server, registered in the agent's config when set.
	ToolServerURL string

	// TurnTimeout bounds each turn. Zero means DefaultTurnTimeout.
	TurnTimeout time.Duration

	// InterruptWait bounds the interrupt sent after a turn timeout.
	InterruptWait time.Duration

	// CloseGrace is how long Close waits for a graceful exit.
	CloseGrace time.Duration

	// InitializeTimeout bounds the handshake. If nil, defaults to 60 seconds.
	// Can also be set via the CODEX_RELAY_INIT_TIMEOUT env var (seconds).
	InitializeTimeout *time.Duration

	// ClientName and ClientVersion identify the relay in the handshake.
	ClientName    string
	ClientVersion string

	// Stderr is a callback for each line the agent writes to stderr.
	Stderr func(string)

	// Transport allows injecting a custom transport implementation.
	// If nil, a subprocess transport is created.
	Transport Transport `json:"-"`
}

// Clone returns a shallow copy with its own Env and Args.
func (o *Options) Clone() *Options {
	if o == nil {
		return &Options{}
	}

	cp := *o

	if o.Env != nil {
		cp.Env = make(map[string]string, len(o.Env))
		for k, v := range o.Env {
			cp.Env[k] = v
		}
	}

	if o.Args != nil {
		cp.Args = append([]string(nil), o.Args...)
	}

	return &cp
}

// GetTurnTimeout returns the turn timeout or its default.
func (o *Options) GetTurnTimeout() time.Duration {
	if o == nil || o.TurnTimeout <= 0 {
		return DefaultTurnTimeout
	}

	return o.TurnTimeout
}

// GetInterruptWait returns the interrupt wait or its default.
func (o *Options) GetInterruptWait() time.Duration {
	if o == nil || o.InterruptWait <= 0 {
		return DefaultInterruptWait
	}

	return o.InterruptWait
}

// GetCloseGrace returns the close grace period or its default.
func (o *Options) GetCloseGrace() time.Duration {
	if o == nil || o.CloseGrace <= 0 {
		return DefaultCloseGrace
	}

	return o.CloseGrace
}

// GetInitializeTimeout returns the handshake timeout from options, env var, or default.
func (o *Options) GetInitializeTimeout() time.Duration {
	if o != nil && o.InitializeTimeout != nil {
		return *o.InitializeTimeout
	}

	if timeoutStr := os.Getenv("CODEX_RELAY_INIT_TIMEOUT"); timeoutStr != "" {
		if timeoutSec, err := strconv.Atoi(timeoutStr); err == nil && timeoutSec > 0 {
			return time.Duration(timeoutSec) * time.Second
		}
	}

	return DefaultInitializeTimeout
}

// GetLogger returns the configured logger or a discarding one.
func (o *Options) GetLogger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return o.Logger
}
