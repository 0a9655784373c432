package relay

import (
	"log/slog"
	"time"

	"github.com/wagiedev/codex-relay/internal/config"
)

// Options configures a Relay. It is built by the functional options passed
// to New.
type Options struct {
	// Runtime configures the agent runtime of every session. Per-session
	// fields (logger, tool server URL, transport) are filled in per channel.
	Runtime config.Options

	// ToolServer is the base URL of the relay's tool server. Each session's
	// agent is pointed at the endpoint of its own channel.
	ToolServer string

	// Persona supplies the prompt templates. Ignored when Composer is set.
	Persona *Persona

	// Composer renders prompts. If nil, one is built from Persona.
	Composer Composer

	// NewRuntime replaces the default agent runtime.
	NewRuntime RuntimeFactory

	// NewTransport creates the transport of each default runtime.
	NewTransport TransportFactory

	OnTurnCompleted TurnCompletedFunc
	OnToolCall      ToolCallFunc

	// HeartbeatChannel is the channel heartbeat runtimes are created for.
	HeartbeatChannel string
}

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Runtime.Logger = logger
	}
}

// WithAgentPath sets the explicit path to the agent binary.
// If not set, the binary is searched in PATH.
func WithAgentPath(path string) Option {
	return func(o *Options) {
		o.Runtime.AgentPath = path
	}
}

// WithArgs appends extra arguments to the agent command line.
func WithArgs(args ...string) Option {
	return func(o *Options) {
		o.Runtime.Args = append(o.Runtime.Args, args...)
	}
}

// WithEnv provides additional environment variables for the agent process.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		o.Runtime.Env = env
	}
}

// WithCwd sets the working directory for the agent and its threads.
func WithCwd(cwd string) Option {
	return func(o *Options) {
		o.Runtime.Cwd = cwd
	}
}

// WithStateDir sets the directory under which per-session homes are created.
func WithStateDir(dir string) Option {
	return func(o *Options) {
		o.Runtime.StateDir = dir
	}
}

// WithKeepHome keeps per-session homes after their sessions end.
func WithKeepHome(keep bool) Option {
	return func(o *Options) {
		o.Runtime.KeepHome = keep
	}
}

// ===== Agent Behavior =====

// WithModel overrides the agent's default model.
func WithModel(model string) Option {
	return func(o *Options) {
		o.Runtime.Model = model
	}
}

// WithApprovalPolicy sets the approval policy of new threads.
// Valid values: "untrusted", "on-failure", "on-request", "never".
func WithApprovalPolicy(policy string) Option {
	return func(o *Options) {
		o.Runtime.ApprovalPolicy = policy
	}
}

// WithSandboxMode sets the sandbox mode of new threads.
// Valid values: "read-only", "workspace-write", "danger-full-access".
func WithSandboxMode(mode string) Option {
	return func(o *Options) {
		o.Runtime.SandboxMode = mode
	}
}

// WithWorkspaceWrite tunes the workspace-write sandbox.
func WithWorkspaceWrite(ww *WorkspaceWrite) Option {
	return func(o *Options) {
		o.Runtime.WorkspaceWrite = ww
	}
}

// WithThreadConfig passes config overrides with every thread/start.
func WithThreadConfig(cfg map[string]any) Option {
	return func(o *Options) {
		o.Runtime.ThreadConfig = cfg
	}
}

// ===== Timeouts =====

// WithTurnTimeout bounds each turn. Defaults to 10 minutes.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Runtime.TurnTimeout = d
	}
}

// WithInterruptWait bounds the interrupt sent after a turn timeout.
func WithInterruptWait(d time.Duration) Option {
	return func(o *Options) {
		o.Runtime.InterruptWait = d
	}
}

// WithCloseGrace sets how long closing a runtime waits before killing the agent.
func WithCloseGrace(d time.Duration) Option {
	return func(o *Options) {
		o.Runtime.CloseGrace = d
	}
}

// WithInitializeTimeout bounds the initialize handshake.
func WithInitializeTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Runtime.InitializeTimeout = &d
	}
}

// ===== Diagnostics =====

// WithStderr sets a callback for each line the agent writes to stderr.
func WithStderr(handler func(string)) Option {
	return func(o *Options) {
		o.Runtime.Stderr = handler
	}
}

// WithClientInfo sets the name and version reported in the handshake.
func WithClientInfo(name, version string) Option {
	return func(o *Options) {
		o.Runtime.ClientName = name
		o.Runtime.ClientVersion = version
	}
}

// ===== Collaborators =====

// WithToolServer points every session's agent at the relay tool server
// listening at baseURL.
func WithToolServer(baseURL string) Option {
	return func(o *Options) {
		o.ToolServer = baseURL
	}
}

// WithPersona sets the prompt templates.
func WithPersona(persona Persona) Option {
	return func(o *Options) {
		o.Persona = &persona
	}
}

// WithComposer replaces the prompt composer.
func WithComposer(composer Composer) Option {
	return func(o *Options) {
		o.Composer = composer
	}
}

// WithRuntimeFactory replaces the agent runtime of every session.
func WithRuntimeFactory(factory RuntimeFactory) Option {
	return func(o *Options) {
		o.NewRuntime = factory
	}
}

// WithTransportFactory creates a custom transport for each session's runtime.
func WithTransportFactory(factory TransportFactory) Option {
	return func(o *Options) {
		o.NewTransport = factory
	}
}

// WithOnTurnCompleted sets a callback receiving the last turn result of
// each ended session.
func WithOnTurnCompleted(fn TurnCompletedFunc) Option {
	return func(o *Options) {
		o.OnTurnCompleted = fn
	}
}

// WithOnToolCall sets a callback receiving tool-call events keyed by channel.
func WithOnToolCall(fn ToolCallFunc) Option {
	return func(o *Options) {
		o.OnToolCall = fn
	}
}

// WithHeartbeatChannel sets the channel heartbeat runtimes are created for.
func WithHeartbeatChannel(channelID string) Option {
	return func(o *Options) {
		o.HeartbeatChannel = channelID
	}
}
