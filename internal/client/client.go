package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wagiedev/codex-relay/internal/config"
	"github.com/wagiedev/codex-relay/internal/errors"
	"github.com/wagiedev/codex-relay/internal/home"
	"github.com/wagiedev/codex-relay/internal/message"
	"github.com/wagiedev/codex-relay/internal/permission"
	"github.com/wagiedev/codex-relay/internal/protocol"
	"github.com/wagiedev/codex-relay/internal/sandbox"
	"github.com/wagiedev/codex-relay/internal/subprocess"
	"github.com/wagiedev/codex-relay/internal/turn"
)

// Version is reported to the agent in the initialize handshake.
var Version = "dev"

// Protocol methods sent by the client.
const (
	methodInitialize    = "initialize"
	methodThreadStart   = "thread/start"
	methodTurnStart     = "turn/start"
	methodTurnSteer     = "turn/steer"
	methodTurnInterrupt = "turn/interrupt"
)

// ThreadParams configures a new thread.
type ThreadParams struct {
	// Instructions replace the agent's base instructions when set.
	Instructions string

	// DeveloperInstructions are added as a developer-role message.
	DeveloperInstructions string

	// Config holds per-thread config overrides, merged over Options.ThreadConfig.
	Config map[string]any
}

// Client is the runtime adapter for one agent process.
type Client struct {
	log      *slog.Logger
	options  *config.Options
	observer turn.Observer

	transport  config.Transport
	controller *protocol.Controller
	home       *home.Home

	// ctx is cancelled with the controller's fatal error when the
	// connection goes away, abandoning every turn still waiting.
	ctx    context.Context
	cancel context.CancelCauseFunc

	// initMu serializes Initialize; initialized is guarded by it.
	initMu      sync.Mutex
	initialized bool

	mu        sync.Mutex
	closed    bool
	turnIDs   []string
	closeOnce sync.Once

	wg sync.WaitGroup
}

// New creates a client. Nothing is spawned until Initialize.
// The observer, when non-nil, receives tool-call events of every turn.
func New(options *config.Options, observer turn.Observer) *Client {
	if options == nil {
		options = &config.Options{}
	}

	ctx, cancel := context.WithCancelCause(context.Background())

	return &Client{
		log:      options.GetLogger().With("component", "client"),
		options:  options,
		observer: observer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Initialize spawns the agent, performs the initialize handshake and sends
// the initialized notification.
func (c *Client) Initialize(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return errors.ErrClientClosed
	}

	if c.initialized {
		return nil
	}

	controller, err := c.connect(ctx)
	if err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, c.options.GetInitializeTimeout())
	defer cancel()

	name := c.options.ClientName
	if name == "" {
		name = config.DefaultClientName
	}

	version := c.options.ClientVersion
	if version == "" {
		version = Version
	}

	_, err = controller.Request(initCtx, methodInitialize, map[string]any{
		"clientInfo": map[string]any{
			"name":    name,
			"title":   name,
			"version": version,
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if err := controller.NotifyInitialized(initCtx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	c.initialized = true
	c.log.Info("Agent initialized")

	return nil
}

// connect creates the isolated home, the transport and the controller on
// first use.
func (c *Client) connect(ctx context.Context) (*protocol.Controller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.ErrClientClosed
	}

	if c.controller != nil {
		return c.controller, nil
	}

	options := c.options.Clone()

	transport := options.Transport
	if transport == nil {
		if options.HomeDir == "" {
			h, err := home.Create(c.log, options.StateDir, home.Config{
				Model:                 options.Model,
				SandboxWorkspaceWrite: options.WorkspaceWrite,
			}.WithToolServer(options.ToolServerURL), options.KeepHome)
			if err != nil {
				return nil, fmt.Errorf("create home: %w", err)
			}

			c.home = h
			options.HomeDir = h.Dir
		}

		transport = subprocess.NewProcess(c.log, options)
	} else {
		c.log.Debug("Using injected custom transport")
	}

	controller := protocol.NewController(c.log, transport)

	c.transport = transport
	c.controller = controller

	if err := controller.Start(ctx); err != nil {
		return nil, fmt.Errorf("start protocol controller: %w", err)
	}

	go func() {
		<-controller.Done()
		c.cancel(controller.FatalError())
	}()

	if err := transport.Start(ctx); err != nil {
		return nil, fmt.Errorf("start transport: %w", err)
	}

	return controller, nil
}

// StartThread creates a thread and returns its id. The approval policy and
// sandbox mode are validated before anything is sent.
func (c *Client) StartThread(ctx context.Context, p ThreadParams) (string, error) {
	policy := permission.PolicyNever
	if c.options.ApprovalPolicy != "" {
		parsed, err := permission.ParsePolicy(c.options.ApprovalPolicy)
		if err != nil {
			return "", err
		}

		policy = parsed
	}

	mode := sandbox.ModeWorkspaceWrite
	if c.options.SandboxMode != "" {
		parsed, err := sandbox.ParseMode(c.options.SandboxMode)
		if err != nil {
			return "", err
		}

		mode = parsed
	}

	controller, err := c.ready()
	if err != nil {
		return "", err
	}

	params := map[string]any{
		"approvalPolicy": policy,
		"sandbox":        mode,
	}

	if c.options.Model != "" {
		params["model"] = c.options.Model
	}

	if c.options.Cwd != "" {
		params["cwd"] = c.options.Cwd
	}

	if p.Instructions != "" {
		params["baseInstructions"] = p.Instructions
	}

	if p.DeveloperInstructions != "" {
		params["developerInstructions"] = p.DeveloperInstructions
	}

	if cfg := mergeConfig(c.options.ThreadConfig, p.Config); len(cfg) > 0 {
		params["config"] = cfg
	}

	raw, err := controller.Request(ctx, methodThreadStart, params)
	if err != nil {
		return "", fmt.Errorf("start thread: %w", err)
	}

	result := decodeObject(raw)

	threadID := message.String(message.Map(result, "thread"), "id")
	if threadID == "" {
		threadID = message.String(result, "threadId")
	}

	if threadID == "" {
		return "", fmt.Errorf("start thread: %w", errors.ErrMissingThreadID)
	}

	c.log.Info("Thread started", "thread_id", threadID, "approval_policy", policy, "sandbox", mode)

	return threadID, nil
}

// StartTurn starts a turn on threadID. The returned handle settles when the
// turn completes, times out or the connection goes away.
func (c *Client) StartTurn(ctx context.Context, threadID, prompt string) (*Turn, error) {
	controller, err := c.ready()
	if err != nil {
		return nil, err
	}

	tracker := turn.NewTracker(c.log, threadID, c.observer, c.startedTurns()...)
	unsubscribe := controller.OnNotification(tracker.HandleNotification)

	raw, err := controller.Request(ctx, methodTurnStart, map[string]any{
		"threadId": threadID,
		"input":    textInput(prompt),
	})
	if err != nil {
		unsubscribe()

		return nil, fmt.Errorf("start turn: %w", err)
	}

	result := decodeObject(raw)

	turnID := message.String(message.Map(result, "turn"), "id")
	if turnID == "" {
		turnID = message.String(result, "turnId")
	}

	if turnID == "" {
		unsubscribe()

		return nil, fmt.Errorf("start turn: %w", errors.ErrMissingTurnID)
	}

	tracker.Bind(turnID)
	c.rememberTurn(turnID)

	handle, settle := NewTurn(turnID, threadID)
	timeout := c.options.GetTurnTimeout()

	c.log.Info("Turn started", "thread_id", threadID, "turn_id", turnID)

	c.wg.Go(func() {
		defer unsubscribe()

		settle(tracker.Wait(c.ctx, timeout, func() {
			c.interrupt(threadID, turnID)
		}))
	})

	return handle, nil
}

// SteerTurn adds prompt to the in-flight turn expectedTurnID. The agent
// rejects the request when that turn is no longer the thread's active turn;
// the rejection is returned as is.
func (c *Client) SteerTurn(ctx context.Context, threadID, expectedTurnID, prompt string) error {
	controller, err := c.ready()
	if err != nil {
		return err
	}

	_, err = controller.Request(ctx, methodTurnSteer, map[string]any{
		"threadId":       threadID,
		"expectedTurnId": expectedTurnID,
		"input":          textInput(prompt),
	})
	if err != nil {
		return fmt.Errorf("steer turn: %w", err)
	}

	c.log.Debug("Turn steered", "thread_id", threadID, "turn_id", expectedTurnID)

	return nil
}

// InterruptTurn asks the agent to stop a turn.
func (c *Client) InterruptTurn(ctx context.Context, threadID, turnID string) error {
	controller, err := c.ready()
	if err != nil {
		return err
	}

	if _, err := controller.Request(ctx, methodTurnInterrupt, map[string]any{
		"threadId": threadID,
		"turnId":   turnID,
	}); err != nil {
		return fmt.Errorf("interrupt turn: %w", err)
	}

	return nil
}

// interrupt is the advisory interrupt sent when a turn is abandoned.
// It is bounded by InterruptWait and its failures are ignored.
func (c *Client) interrupt(threadID, turnID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.options.GetInterruptWait())
	defer cancel()

	if err := c.InterruptTurn(ctx, threadID, turnID); err != nil {
		c.log.Debug("Interrupt failed", "turn_id", turnID, "error", err)
	}
}

// Close stops the controller, terminates the agent and removes the
// isolated home. Turns still waiting settle as failed. This method is safe
// to call multiple times.
func (c *Client) Close() error {
	var closeErr error

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		controller := c.controller
		transport := c.transport
		c.mu.Unlock()

		if controller != nil {
			controller.Stop()
		}

		c.cancel(errors.ErrClientClosed)

		if transport != nil {
			closeErr = transport.Close()
		}

		c.wg.Wait()

		if err := c.home.Remove(); err != nil && closeErr == nil {
			closeErr = err
		}

		c.log.Info("Client closed")
	})

	return closeErr
}

func (c *Client) ready() (*protocol.Controller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.ErrClientClosed
	}

	if c.controller == nil {
		return nil, errors.ErrTransportNotConnected
	}

	return c.controller, nil
}

func (c *Client) startedTurns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.turnIDs...)
}

func (c *Client) rememberTurn(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turnIDs = append(c.turnIDs, turnID)
}

func textInput(prompt string) []map[string]any {
	return []map[string]any{{"type": "text", "text": prompt}}
}

func mergeConfig(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}

	merged := make(map[string]any, len(base)+len(override))

	for k, v := range base {
		merged[k] = v
	}

	for k, v := range override {
		merged[k] = v
	}

	return merged
}

func decodeObject(raw json.RawMessage) map[string]any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil
	}

	return m
}
