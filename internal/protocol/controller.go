package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/wagiedev/codex-relay/internal/config"
	"github.com/wagiedev/codex-relay/internal/errors"
	"github.com/wagiedev/codex-relay/internal/message"
)

// Transport defines the minimal interface needed for protocol operations.
//
// This interface is satisfied by subprocess.Process but allows for testing
// with mock transports.
type Transport interface {
	WriteLine(ctx context.Context, v any) error
	OnLine(handler func(line string)) func()
	OnError(handler func(err error)) func()
	OnExit(handler func(exit config.Exit)) func()
}

// Controller manages JSON-RPC communication with the agent.
//
// Notification observers run synchronously on the transport's read
// goroutine, so they see notifications in the order the agent wrote them
// and must not block. Inbound requests are answered on their own goroutines.
type Controller struct {
	log       *slog.Logger
	transport Transport

	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	handlersMu sync.RWMutex
	handlers   map[string]RequestHandler

	observersMu   sync.Mutex
	nextObserver  int
	observers     map[int]func(Notification)
	unsubscribers []func()

	errMu    sync.RWMutex
	fatalErr error

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

type pendingRequest struct {
	method   string
	response chan callResult
}

type callResult struct {
	result json.RawMessage
	err    error
}

// NewController creates a new protocol controller with the unattended
// approval handlers registered.
func NewController(log *slog.Logger, transport Transport) *Controller {
	c := &Controller{
		log:       log.With("component", "protocol"),
		transport: transport,
		pending:   make(map[string]*pendingRequest, 4),
		handlers:  make(map[string]RequestHandler, 8),
		observers: make(map[int]func(Notification), 2),
		done:      make(chan struct{}),
	}

	registerApprovalHandlers(c)

	return c
}

// Start subscribes the controller to the transport. Call it before the
// transport is started so that no line is missed. ctx scopes the handling of
// inbound requests.
func (c *Controller) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

		c.unsubscribers = []func(){
			c.transport.OnLine(c.handleLine),
			c.transport.OnError(c.handleTransportError),
			c.transport.OnExit(c.handleExit),
		}
	})

	return nil
}

// Stop detaches from the transport, rejects pending requests with
// ErrControllerStopped and waits for inbound handlers to finish. It's safe
// to call Stop multiple times.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.SetFatalError(errors.ErrControllerStopped)

		c.observersMu.Lock()
		unsubscribers := c.unsubscribers
		c.unsubscribers = nil
		c.observersMu.Unlock()

		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}

		if c.cancel != nil {
			c.cancel()
		}

		c.wg.Wait()
	})
}

// SetFatalError stores the first fatal error, rejects every pending request
// with it and closes Done.
func (c *Controller) SetFatalError(err error) {
	c.errMu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	c.errMu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })

	c.rejectAll(c.FatalError())
}

// FatalError returns the fatal error if one occurred.
func (c *Controller) FatalError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.fatalErr
}

// Done returns a channel that is closed when the controller stops.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Request sends a request and waits for its response.
//
// Returns *errors.RPCError when the agent answers with an error object, and
// the transport failure (a *errors.ProcessError when the process exited)
// when the connection goes away first.
func (c *Controller) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	key, _ := idKey(id)

	pending := &pendingRequest{
		method:   method,
		response: make(chan callResult, 1),
	}

	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()

		return nil, c.FatalError()
	default:
	}

	c.pending[key] = pending
	c.pendingMu.Unlock()

	c.log.Debug("Sending request", "id", id, "method", method)

	if params == nil {
		params = map[string]any{}
	}

	if err := c.transport.WriteLine(ctx, outboundRequest{ID: id, Method: method, Params: params}); err != nil {
		c.forget(key)

		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case res := <-pending.response:
		return res.result, res.err

	case <-ctx.Done():
		c.forget(key)

		return nil, ctx.Err()
	}
}

// Notify sends a notification. No reply is expected.
func (c *Controller) Notify(ctx context.Context, method string, params any) error {
	if err := c.transport.WriteLine(ctx, outboundNotification{Method: method, Params: params}); err != nil {
		return fmt.Errorf("notify %s: %w", method, err)
	}

	return nil
}

// NotifyInitialized completes the handshake started by the initialize request.
func (c *Controller) NotifyInitialized(ctx context.Context) error {
	return c.Notify(ctx, "initialized", nil)
}

// OnNotification registers an observer for every notification.
// Observers are called in registration order.
func (c *Controller) OnNotification(handler func(Notification)) (unsubscribe func()) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()

	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = handler

	return func() {
		c.observersMu.Lock()
		defer c.observersMu.Unlock()

		delete(c.observers, id)
	}
}

// RegisterHandler registers a handler for inbound requests with the given
// method. Methods are matched after normalization, so camelCase and
// snake_case spellings share a handler. Registering twice overrides.
func (c *Controller) RegisterHandler(method string, handler RequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.handlers[message.NormalizeMethod(method)] = handler
}

func (c *Controller) forget(key string) {
	c.pendingMu.Lock()
	delete(c.pending, key)
	c.pendingMu.Unlock()
}

func (c *Controller) rejectAll(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.pendingMu.Unlock()

	for key, p := range pending {
		c.log.Debug("Rejecting pending request", "id", key, "method", p.method, "error", err)
		p.response <- callResult{err: err}
	}
}

func (c *Controller) handleTransportError(err error) {
	c.log.Debug("Transport error", "error", err)
	c.SetFatalError(err)
}

func (c *Controller) handleExit(exit config.Exit) {
	if exit.Intentional {
		c.SetFatalError(errors.ErrControllerStopped)

		return
	}

	c.SetFatalError(&errors.ProcessError{
		ExitCode: exit.Code,
		Stderr:   exit.Stderr,
		Err:      exit.Err,
	})
}

// handleLine classifies one line from the agent.
func (c *Controller) handleLine(line string) {
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		c.log.Warn("Skipping undecodable line", "error", &errors.JSONDecodeError{RawData: line, Err: err})

		return
	}

	switch {
	case env.Method != "" && env.hasID():
		c.handleRequest(&env)

	case env.Method != "":
		c.dispatch(Notification{Method: env.Method, Params: decodeParams(env.Params)})

	case env.hasID():
		c.handleResponse(&env)

	default:
		c.log.Debug("Ignoring line without id or method", "line", line)
	}
}

func (c *Controller) handleResponse(env *envelope) {
	key, ok := rawIDKey(env.ID)
	if !ok {
		c.log.Warn("Response with unusable id", "id", string(env.ID))

		return
	}

	c.pendingMu.Lock()
	pending, exists := c.pending[key]
	if exists {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if !exists {
		c.log.Debug("No pending request for response", "id", string(env.ID))

		return
	}

	if env.Error != nil {
		pending.response <- callResult{err: &errors.RPCError{
			Method:  pending.method,
			Code:    env.Error.Code,
			Message: env.Error.Message,
		}}

		return
	}

	pending.response <- callResult{result: env.Result}
}

func (c *Controller) dispatch(n Notification) {
	c.observersMu.Lock()
	ids := slices.Sorted(maps.Keys(c.observers))
	observers := make([]func(Notification), 0, len(ids))

	for _, id := range ids {
		observers = append(observers, c.observers[id])
	}
	c.observersMu.Unlock()

	for _, observe := range observers {
		observe(n)
	}
}

func (c *Controller) handleRequest(env *envelope) {
	req := &Request{
		ID:     env.ID,
		Method: env.Method,
		Params: decodeParams(env.Params),
	}

	c.handlersMu.RLock()
	handler, exists := c.handlers[message.NormalizeMethod(req.Method)]
	c.handlersMu.RUnlock()

	c.log.Debug("Received inbound request", "id", string(req.ID), "method", req.Method, "handled", exists)

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if !exists {
		c.respond(ctx, reply{ID: req.ID, Error: &wireError{
			Code:    CodeMethodNotFound,
			Message: "method not supported: " + req.Method,
		}})

		return
	}

	c.wg.Go(func() {
		result, err := handler(ctx, req)
		if err != nil {
			code := CodeInternalError
			if rpcErr, ok := stderrors.AsType[*errors.RPCError](err); ok {
				code = rpcErr.Code
			}

			c.respond(ctx, reply{ID: req.ID, Error: &wireError{Code: code, Message: err.Error()}})

			return
		}

		if result == nil {
			result = map[string]any{}
		}

		c.respond(ctx, reply{ID: req.ID, Result: result})
	})
}

func (c *Controller) respond(ctx context.Context, r reply) {
	if err := c.transport.WriteLine(ctx, r); err != nil {
		if ctx.Err() != nil {
			c.log.Debug("Could not reply during shutdown", "error", err)

			return
		}

		c.log.Error("Failed to reply to inbound request", "id", string(r.ID), "error", err)
	}
}
