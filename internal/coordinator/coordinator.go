package coordinator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wagiedev/codex-relay/internal/client"
	"github.com/wagiedev/codex-relay/internal/errors"
	"github.com/wagiedev/codex-relay/internal/prompt"
	"github.com/wagiedev/codex-relay/internal/turn"
)

// maxAttempts bounds how often a message is re-routed after the session it
// was queued on closed underneath it.
const maxAttempts = 3

// Runtime is one agent connection used for the lifetime of one session.
// Close must be safe to call concurrently with the other methods.
type Runtime interface {
	Initialize(ctx context.Context) error
	StartThread(ctx context.Context, params client.ThreadParams) (string, error)
	StartTurn(ctx context.Context, threadID, prompt string) (*client.Turn, error)
	SteerTurn(ctx context.Context, threadID, expectedTurnID, prompt string) error
	Close() error
}

// Compile-time verification that the client is a Runtime.
var _ Runtime = (*client.Client)(nil)

// RuntimeFactory creates a runtime for a channel. The observer receives the
// tool-call events of the runtime's turns and may be nil.
type RuntimeFactory func(channelID string, observer turn.Observer) (Runtime, error)

// Composer builds the prompts sent to the agent.
type Composer interface {
	Compose(msg prompt.Message) (prompt.Bundle, error)
	ComposeSteer(msg prompt.Message) (string, error)
	ComposeHeartbeat(text string) (prompt.Bundle, error)
}

var _ Composer = (*prompt.Composer)(nil)

// TurnCompletedFunc is called when a session ends with the result of its
// last active turn. Its error is logged and otherwise ignored.
type TurnCompletedFunc func(ctx context.Context, channelID string, result turn.Result) error

// ToolCallFunc receives tool-call events keyed by channel.
type ToolCallFunc func(channelID string, ev turn.Event)

// Options configures a Coordinator.
type Options struct {
	Logger *slog.Logger

	// NewRuntime creates the runtime of each session. Required.
	NewRuntime RuntimeFactory

	// Composer renders prompts. Required.
	Composer Composer

	OnTurnCompleted TurnCompletedFunc
	OnToolCall      ToolCallFunc

	// HeartbeatChannel is the channel id heartbeat runtimes are created for.
	HeartbeatChannel string
}

// Coordinator routes messages to per-channel sessions.
type Coordinator struct {
	log  *slog.Logger
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	wg sync.WaitGroup
}

// New creates a coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.NewRuntime == nil {
		return nil, fmt.Errorf("coordinator: runtime factory is required")
	}

	if opts.Composer == nil {
		return nil, fmt.Errorf("coordinator: prompt composer is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		log:      log.With("component", "coordinator"),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session, 8),
	}, nil
}

// GenerateReply hands msg to the session of its channel.
//
// Without a session, a new one is started and GenerateReply returns when the
// turn started for msg finishes; its failure is returned only if that turn
// is still the session's active turn. With a session, msg is steered into
// the active turn and GenerateReply returns right away, or, when the agent
// rejects the steer, msg starts a new turn that GenerateReply waits for.
func (c *Coordinator) GenerateReply(ctx context.Context, msg prompt.Message) error {
	q, err := c.enqueue(ctx, msg)

	return c.await(ctx, msg, q, err)
}

// Submit queues msg on the session of its channel before returning and
// delivers what GenerateReply would return on the result channel. Messages
// submitted one after another reach their session in submission order.
func (c *Coordinator) Submit(ctx context.Context, msg prompt.Message) <-chan error {
	q, err := c.enqueue(ctx, msg)

	errc := make(chan error, 1)

	go func() { errc <- c.await(ctx, msg, q, err) }()

	return errc
}

// GenerateHeartbeat runs one turn with a heartbeat prompt on a runtime of
// its own. The runtime is always closed before returning.
func (c *Coordinator) GenerateHeartbeat(ctx context.Context, text string) (turn.Result, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return turn.Result{}, errors.ErrCoordinatorClosed
	}

	log := c.log.With("channel", c.opts.HeartbeatChannel, "heartbeat", true)

	bundle, err := c.opts.Composer.ComposeHeartbeat(text)
	if err != nil {
		return turn.Result{}, fmt.Errorf("compose heartbeat: %w", err)
	}

	rt, err := c.opts.NewRuntime(c.opts.HeartbeatChannel, c.observerFor(c.opts.HeartbeatChannel))
	if err != nil {
		return turn.Result{}, fmt.Errorf("create runtime: %w", err)
	}

	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("Failed to close heartbeat runtime", "error", err)
		}
	}()

	if err := rt.Initialize(ctx); err != nil {
		return turn.Result{}, err
	}

	threadID, err := rt.StartThread(ctx, client.ThreadParams{
		Instructions:          bundle.Instructions,
		DeveloperInstructions: bundle.DeveloperPrompt,
	})
	if err != nil {
		return turn.Result{}, err
	}

	t, err := rt.StartTurn(ctx, threadID, bundle.UserPrompt)
	if err != nil {
		return turn.Result{}, err
	}

	res, err := t.Wait(ctx)
	if err != nil {
		return turn.Result{}, err
	}

	logTurn(log, res)

	return res, res.Err()
}

// HasSession reports whether channelID currently has a session.
func (c *Coordinator) HasSession(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.sessions[channelID]

	return ok
}

// Close shuts every session down. Callers still waiting on a turn receive
// ErrCoordinatorClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	sessions := make([]*session, 0, len(c.sessions))

	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}

	clear(c.sessions)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Go(func() { s.shutdown(errors.ErrCoordinatorClosed) })
	}

	wg.Wait()
	c.cancel()
	c.wg.Wait()

	c.log.Info("Coordinator closed", "sessions", len(sessions))

	return nil
}

func (c *Coordinator) sessionFor(channelID string) (*session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, errors.ErrCoordinatorClosed
	}

	if s, ok := c.sessions[channelID]; ok {
		return s, false, nil
	}

	s := newSession(c.log, channelID)
	c.sessions[channelID] = s

	s.log.Debug("Session created")

	return s, true, nil
}

// queued is a message pushed onto a session queue.
type queued struct {
	s       *session
	created bool
	result  chan queuedOutcome
}

type queuedOutcome struct {
	wait <-chan error
	err  error
}

// enqueue pushes the operation for msg onto the queue of its session. A
// refused push is reported as ErrSessionClosed alongside the session.
func (c *Coordinator) enqueue(ctx context.Context, msg prompt.Message) (*queued, error) {
	s, created, err := c.sessionFor(msg.ChannelID)
	if err != nil {
		return nil, err
	}

	op := c.appendMessage
	if created {
		op = c.startSession
	}

	q := &queued{s: s, created: created, result: make(chan queuedOutcome, 1)}

	if !s.queue.push(func() {
		wait, err := op(ctx, s, msg)
		q.result <- queuedOutcome{wait: wait, err: err}
	}) {
		return q, errors.ErrSessionClosed
	}

	return q, nil
}

// await waits for the queued operation and then for the turn it started.
// A message whose session closed before it ran is queued again.
func (c *Coordinator) await(ctx context.Context, msg prompt.Message, q *queued, err error) error {
	for attempt := 1; ; attempt++ {
		var wait <-chan error

		if err == nil {
			select {
			case out := <-q.result:
				wait, err = out.wait, out.err
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err != nil {
			if !stderrors.Is(err, errors.ErrSessionClosed) || q == nil || q.created || attempt >= maxAttempts {
				return err
			}

			q.s.log.Debug("Session closed before the message reached it, rerouting", "attempt", attempt)
			q, err = c.enqueue(ctx, msg)

			continue
		}

		if wait == nil {
			return nil
		}

		select {
		case err := <-wait:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) startSession(ctx context.Context, s *session, msg prompt.Message) (<-chan error, error) {
	rt, err := c.opts.NewRuntime(s.channelID, c.observerFor(s.channelID))
	if err != nil {
		c.dispose(s)

		return nil, fmt.Errorf("create runtime: %w", err)
	}

	if !s.attach(rt) {
		if err := rt.Close(); err != nil {
			s.log.Warn("Failed to close runtime", "error", err)
		}

		return nil, errors.ErrSessionClosed
	}

	wait, err := c.boot(ctx, s, rt, msg)
	if err != nil {
		s.log.Error("Session start failed", "error", err)
		c.dispose(s)

		return nil, err
	}

	return wait, nil
}

func (c *Coordinator) boot(ctx context.Context, s *session, rt Runtime, msg prompt.Message) (<-chan error, error) {
	if err := rt.Initialize(ctx); err != nil {
		return nil, err
	}

	bundle, err := c.opts.Composer.Compose(msg)
	if err != nil {
		return nil, fmt.Errorf("compose prompt: %w", err)
	}

	threadID, err := rt.StartThread(ctx, client.ThreadParams{
		Instructions:          bundle.Instructions,
		DeveloperInstructions: bundle.DeveloperPrompt,
	})
	if err != nil {
		return nil, err
	}

	s.setThread(threadID)

	t, err := rt.StartTurn(ctx, threadID, bundle.UserPrompt)
	if err != nil {
		return nil, err
	}

	s.log.Info("Session started", "thread_id", threadID, "turn_id", t.ID)

	return c.track(s, t), nil
}

func (c *Coordinator) appendMessage(ctx context.Context, s *session, msg prompt.Message) (<-chan error, error) {
	rt, threadID, activeTurnID, ok := s.snapshot()
	if !ok {
		return nil, errors.ErrSessionClosed
	}

	text, err := c.opts.Composer.ComposeSteer(msg)
	if err != nil {
		return nil, fmt.Errorf("compose steer prompt: %w", err)
	}

	err = rt.SteerTurn(ctx, threadID, activeTurnID, text)
	if err == nil {
		s.log.Info("Message steered into active turn", "turn_id", activeTurnID)

		return nil, nil
	}

	s.log.Info("Steer rejected, starting a new turn", "turn_id", activeTurnID, "error", err)

	t, err := rt.StartTurn(ctx, threadID, text)
	if err != nil {
		return nil, fmt.Errorf("start fallback turn: %w", err)
	}

	return c.track(s, t), nil
}

// track makes t the session's active turn and returns the channel its
// caller-visible outcome is delivered on.
func (c *Coordinator) track(s *session, t *client.Turn) <-chan error {
	s.setActiveTurn(t.ID)

	wait := make(chan error, 1)

	// Close waits on c.wg, so no watcher may be added once it has started.
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		wait <- errors.ErrCoordinatorClosed

		return wait
	}

	c.wg.Go(func() {
		<-t.Done()

		res := t.Result()
		logTurn(s.log, res)

		if !s.queue.push(func() { wait <- c.complete(s, res) }) {
			wait <- s.shutdownCause()
		}
	})

	return wait
}

// complete runs on the session queue once a turn has settled.
func (c *Coordinator) complete(s *session, res turn.Result) error {
	active, closed, cause := s.isActive(res.TurnID)

	switch {
	case closed:
		return cause

	case !active:
		s.log.Info("Ignoring completion of superseded turn", "turn_id", res.TurnID, "status", res.Status)

		return nil
	}

	if fn := c.opts.OnTurnCompleted; fn != nil {
		if err := fn(c.ctx, s.channelID, res); err != nil {
			s.log.Warn("Turn completed callback failed", "error", err)
		}
	}

	c.dispose(s)

	return res.Err()
}

// dispose removes s from the table and shuts it down.
func (c *Coordinator) dispose(s *session) {
	c.mu.Lock()
	if c.sessions[s.channelID] == s {
		delete(c.sessions, s.channelID)
	}
	c.mu.Unlock()

	s.shutdown(nil)
}

func (c *Coordinator) observerFor(channelID string) turn.Observer {
	fn := c.opts.OnToolCall
	if fn == nil {
		return nil
	}

	return func(ev turn.Event) { fn(channelID, ev) }
}

func logTurn(log *slog.Logger, res turn.Result) {
	for _, call := range res.ToolCalls {
		log.Info("Tool call",
			"turn_id", res.TurnID,
			"kind", call.Kind,
			"name", call.Name,
			"status", call.Status,
			"input", call.Input,
		)
	}

	attrs := []any{"turn_id", res.TurnID, "status", res.Status, "assistant_text", res.AssistantText}
	if res.ErrorMessage != "" {
		attrs = append(attrs, "error", res.ErrorMessage)
	}

	if res.TokenUsage != nil {
		attrs = append(attrs, "total_tokens", res.TokenUsage.Total.TotalTokens)
	}

	log.Info("Turn finished", attrs...)
}
