package relay

import (
	"context"
	"fmt"

	"github.com/wagiedev/codex-relay/internal/client"
	"github.com/wagiedev/codex-relay/internal/config"
	"github.com/wagiedev/codex-relay/internal/coordinator"
	"github.com/wagiedev/codex-relay/internal/mcp"
	"github.com/wagiedev/codex-relay/internal/permission"
	"github.com/wagiedev/codex-relay/internal/prompt"
	"github.com/wagiedev/codex-relay/internal/sandbox"
	"github.com/wagiedev/codex-relay/internal/turn"
)

// Relay routes chat messages to per-channel agent sessions.
type Relay struct {
	options     *Options
	coordinator *coordinator.Coordinator
}

// New creates a relay. No agent is spawned until the first message.
func New(opts ...Option) (*Relay, error) {
	options := applyOptions(opts)

	if options.Runtime.ApprovalPolicy != "" {
		if _, err := permission.ParsePolicy(options.Runtime.ApprovalPolicy); err != nil {
			return nil, err
		}
	}

	if options.Runtime.SandboxMode != "" {
		if _, err := sandbox.ParseMode(options.Runtime.SandboxMode); err != nil {
			return nil, err
		}
	}

	composer := options.Composer
	if composer == nil {
		persona := prompt.DefaultPersona()
		if options.Persona != nil {
			persona = *options.Persona
		}

		c, err := prompt.NewComposer(persona)
		if err != nil {
			return nil, fmt.Errorf("build prompt composer: %w", err)
		}

		composer = c
	}

	r := &Relay{options: options}

	factory := options.NewRuntime
	if factory == nil {
		factory = r.newRuntime
	}

	coord, err := coordinator.New(coordinator.Options{
		Logger:           options.Runtime.GetLogger(),
		NewRuntime:       factory,
		Composer:         composer,
		OnTurnCompleted:  options.OnTurnCompleted,
		OnToolCall:       options.OnToolCall,
		HeartbeatChannel: options.HeartbeatChannel,
	})
	if err != nil {
		return nil, err
	}

	r.coordinator = coord

	return r, nil
}

// GenerateReply hands msg to the session of its channel. See the package
// documentation for when it returns.
func (r *Relay) GenerateReply(ctx context.Context, msg Message) error {
	return r.coordinator.GenerateReply(ctx, msg)
}

// Submit queues msg on the session of its channel before returning. The
// result channel receives what GenerateReply would have returned, so
// messages submitted in order reach their session in that order.
func (r *Relay) Submit(ctx context.Context, msg Message) <-chan error {
	return r.coordinator.Submit(ctx, msg)
}

// GenerateHeartbeat runs one turn on a runtime of its own and returns its
// result. The error is non-nil when the turn did not complete.
func (r *Relay) GenerateHeartbeat(ctx context.Context, text string) (TurnResult, error) {
	return r.coordinator.GenerateHeartbeat(ctx, text)
}

// HasSession reports whether channelID has a live session.
func (r *Relay) HasSession(channelID string) bool {
	return r.coordinator.HasSession(channelID)
}

// Close shuts every session down. Callers still waiting fail with
// ErrCoordinatorClosed.
func (r *Relay) Close() error {
	return r.coordinator.Close()
}

func (r *Relay) newRuntime(channelID string, observer turn.Observer) (coordinator.Runtime, error) {
	return client.New(r.runtimeOptions(channelID), observer), nil
}

// runtimeOptions derives the options of one session's runtime.
func (r *Relay) runtimeOptions(channelID string) *config.Options {
	opts := r.options.Runtime.Clone()

	if opts.Logger != nil && channelID != "" {
		opts.Logger = opts.Logger.With("channel", channelID)
	}

	if r.options.ToolServer != "" && channelID != "" {
		opts.ToolServerURL = mcp.URL(r.options.ToolServer, channelID)
	}

	if r.options.NewTransport != nil {
		opts.Transport = r.options.NewTransport(channelID)
	}

	return opts
}
