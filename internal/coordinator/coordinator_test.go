package coordinator

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/codex-relay/internal/client"
	"github.com/wagiedev/codex-relay/internal/errors"
	"github.com/wagiedev/codex-relay/internal/prompt"
	"github.com/wagiedev/codex-relay/internal/turn"
)

const waitTimeout = 2 * time.Second

type steerCall struct {
	threadID string
	turnID   string
	prompt   string
}

// fakeRuntime records calls and hands out turns that tests settle by hand.
type fakeRuntime struct {
	mu        sync.Mutex
	channelID string
	initErr   error
	initGate  chan struct{}
	turnGate  chan struct{}
	entered   chan struct{}
	steerErr  error
	threads   int
	prompts   []string
	steers    []steerCall
	settlers  map[string]func(turn.Result)
	closed    int
	started   chan string
}

func (r *fakeRuntime) Initialize(ctx context.Context) error {
	if r.initGate != nil {
		select {
		case <-r.initGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return r.initErr
}

func (r *fakeRuntime) StartThread(context.Context, client.ThreadParams) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.threads++

	return "thread-1", nil
}

func (r *fakeRuntime) StartTurn(_ context.Context, threadID, text string) (*client.Turn, error) {
	if r.turnGate != nil {
		r.entered <- struct{}{}
		<-r.turnGate
	}

	r.mu.Lock()
	r.prompts = append(r.prompts, text)
	id := fmt.Sprintf("turn-%d", len(r.prompts))
	handle, settle := client.NewTurn(id, threadID)
	r.settlers[id] = settle
	r.mu.Unlock()

	r.started <- id

	return handle, nil
}

func (r *fakeRuntime) SteerTurn(_ context.Context, threadID, expectedTurnID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.steers = append(r.steers, steerCall{threadID: threadID, turnID: expectedTurnID, prompt: text})

	return r.steerErr
}

func (r *fakeRuntime) Close() error {
	r.mu.Lock()
	r.closed++
	settlers := r.settlers
	r.settlers = map[string]func(turn.Result){}
	r.mu.Unlock()

	for id, settle := range settlers {
		settle(turn.Result{TurnID: id, Status: turn.StatusFailed, ErrorMessage: "client closed"})
	}

	return nil
}

func (r *fakeRuntime) finish(t *testing.T, turnID string, status turn.Status, errMsg string) {
	t.Helper()

	r.mu.Lock()
	settle, ok := r.settlers[turnID]
	delete(r.settlers, turnID)
	r.mu.Unlock()

	require.True(t, ok, "unknown turn %s", turnID)
	settle(turn.Result{TurnID: turnID, Status: status, AssistantText: "done", ErrorMessage: errMsg})
}

func (r *fakeRuntime) awaitTurn(t *testing.T) string {
	t.Helper()

	select {
	case id := <-r.started:
		return id
	case <-time.After(waitTimeout):
		t.Fatal("no turn started")

		return ""
	}
}

func (r *fakeRuntime) snapshot() (threads int, prompts []string, steers []steerCall, closed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.threads, append([]string(nil), r.prompts...), append([]steerCall(nil), r.steers...), r.closed
}

type fakeFactory struct {
	mu        sync.Mutex
	runtimes  []*fakeRuntime
	configure func(n int, r *fakeRuntime)
	created   chan *fakeRuntime
	err       error
}

func newFactory(configure func(n int, r *fakeRuntime)) *fakeFactory {
	return &fakeFactory{configure: configure, created: make(chan *fakeRuntime, 8)}
}

func (f *fakeFactory) New(channelID string, _ turn.Observer) (Runtime, error) {
	if f.err != nil {
		return nil, f.err
	}

	r := &fakeRuntime{
		channelID: channelID,
		settlers:  map[string]func(turn.Result){},
		started:   make(chan string, 8),
	}

	f.mu.Lock()
	n := len(f.runtimes)
	f.runtimes = append(f.runtimes, r)
	f.mu.Unlock()

	if f.configure != nil {
		f.configure(n, r)
	}

	f.created <- r

	return r, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.runtimes)
}

func (f *fakeFactory) await(t *testing.T) *fakeRuntime {
	t.Helper()

	select {
	case r := <-f.created:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("no runtime created")

		return nil
	}
}

type fakeComposer struct{}

func (fakeComposer) Compose(msg prompt.Message) (prompt.Bundle, error) {
	return prompt.Bundle{Instructions: "be nice", DeveloperPrompt: "use tools", UserPrompt: "start:" + msg.Text}, nil
}

func (fakeComposer) ComposeSteer(msg prompt.Message) (string, error) {
	return "steer:" + msg.Text, nil
}

func (fakeComposer) ComposeHeartbeat(text string) (prompt.Bundle, error) {
	return prompt.Bundle{UserPrompt: "heartbeat:" + text}, nil
}

func newCoordinator(t *testing.T, f *fakeFactory, mutate func(*Options)) *Coordinator {
	t.Helper()

	opts := Options{NewRuntime: f.New, Composer: fakeComposer{}}
	if mutate != nil {
		mutate(&opts)
	}

	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func reply(c *Coordinator, channelID, text string) <-chan error {
	errc := make(chan error, 1)

	go func() {
		errc <- c.GenerateReply(context.Background(), prompt.Message{ChannelID: channelID, Author: "ana", Text: text})
	}()

	return errc
}

func awaitErr(t *testing.T, errc <-chan error) error {
	t.Helper()

	select {
	case err := <-errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("GenerateReply did not return")

		return nil
	}
}

func assertPending(t *testing.T, errc <-chan error) {
	t.Helper()

	select {
	case err := <-errc:
		t.Fatalf("caller resolved early with %v", err)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Composer: fakeComposer{}})
	require.Error(t, err)

	_, err = New(Options{NewRuntime: newFactory(nil).New})
	require.Error(t, err)
}

func TestGenerateReply_NewSession(t *testing.T) {
	f := newFactory(nil)
	c := newCoordinator(t, f, nil)

	first := reply(c, "c1", "first")
	rt := f.await(t)
	turnID := rt.awaitTurn(t)
	require.Equal(t, "turn-1", turnID)
	require.True(t, c.HasSession("c1"))

	assertPending(t, first)

	threads, prompts, steers, closed := rt.snapshot()
	assert.Equal(t, 1, threads)
	assert.Equal(t, []string{"start:first"}, prompts)
	assert.Empty(t, steers)
	assert.Zero(t, closed)

	rt.finish(t, turnID, turn.StatusCompleted, "")
	require.NoError(t, awaitErr(t, first))

	_, _, _, closed = rt.snapshot()
	assert.Equal(t, 1, closed)
	assert.False(t, c.HasSession("c1"))
	assert.Equal(t, "c1", rt.channelID)
}

func TestGenerateReply_SteersActiveTurn(t *testing.T) {
	f := newFactory(nil)
	c := newCoordinator(t, f, nil)

	first := reply(c, "c1", "first")
	rt := f.await(t)
	rt.awaitTurn(t)

	require.NoError(t, awaitErr(t, reply(c, "c1", "second")))

	_, prompts, steers, closed := rt.snapshot()
	require.Len(t, steers, 1)
	assert.Equal(t, steerCall{threadID: "thread-1", turnID: "turn-1", prompt: "steer:second"}, steers[0])
	assert.Len(t, prompts, 1)
	assert.Zero(t, closed)
	assert.Equal(t, 1, f.count())

	rt.finish(t, "turn-1", turn.StatusCompleted, "")
	require.NoError(t, awaitErr(t, first))

	_, _, _, closed = rt.snapshot()
	assert.Equal(t, 1, closed)
}

func TestGenerateReply_SteerRejectedFallsBack(t *testing.T) {
	f := newFactory(func(_ int, r *fakeRuntime) { r.steerErr = stderrors.New("expected turn mismatch") })
	c := newCoordinator(t, f, nil)

	first := reply(c, "c1", "first")
	rt := f.await(t)
	rt.awaitTurn(t)

	second := reply(c, "c1", "second")
	require.Equal(t, "turn-2", rt.awaitTurn(t))

	_, prompts, steers, _ := rt.snapshot()
	require.Len(t, steers, 1)
	require.Equal(t, []string{"start:first", "steer:second"}, prompts)

	// The superseded turn resolves its caller without tearing down.
	rt.finish(t, "turn-1", turn.StatusCompleted, "")
	require.NoError(t, awaitErr(t, first))

	_, _, _, closed := rt.snapshot()
	assert.Zero(t, closed)
	assert.True(t, c.HasSession("c1"))
	assertPending(t, second)

	rt.finish(t, "turn-2", turn.StatusCompleted, "")
	require.NoError(t, awaitErr(t, second))

	_, _, _, closed = rt.snapshot()
	assert.Equal(t, 1, closed)
	assert.False(t, c.HasSession("c1"))
}

func TestGenerateReply_StaleFailureSwallowed(t *testing.T) {
	f := newFactory(func(_ int, r *fakeRuntime) { r.steerErr = stderrors.New("no active turn") })
	c := newCoordinator(t, f, nil)

	first := reply(c, "c1", "first")
	rt := f.await(t)
	rt.awaitTurn(t)

	second := reply(c, "c1", "second")
	rt.awaitTurn(t)

	rt.finish(t, "turn-1", turn.StatusFailed, "boom")
	require.NoError(t, awaitErr(t, first))

	rt.finish(t, "turn-2", turn.StatusInterrupted, "")
	err := awaitErr(t, second)

	turnErr, ok := stderrors.AsType[*errors.TurnError](err)
	require.True(t, ok, "expected turn error, got %v", err)
	assert.Equal(t, "turn-2", turnErr.TurnID)
}

func TestGenerateReply_ActiveFailurePropagates(t *testing.T) {
	f := newFactory(nil)
	c := newCoordinator(t, f, nil)

	first := reply(c, "c1", "first")
	rt := f.await(t)
	rt.awaitTurn(t)

	rt.finish(t, "turn-1", turn.StatusFailed, "usage limit reached")

	err := awaitErr(t, first)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage limit reached")
	assert.False(t, c.HasSession("c1"))
}

func TestGenerateReply_NewRuntimeAfterCompletion(t *testing.T) {
	f := newFactory(nil)
	c := newCoordinator(t, f, nil)

	first := reply(c, "c1", "first")
	rt1 := f.await(t)
	rt1.awaitTurn(t)
	rt1.finish(t, "turn-1", turn.StatusCompleted, "")
	require.NoError(t, awaitErr(t, first))

	second := reply(c, "c1", "second")
	rt2 := f.await(t)
	require.NotSame(t, rt1, rt2)
	rt2.awaitTurn(t)

	threads, prompts, steers, _ := rt2.snapshot()
	assert.Equal(t, 1, threads)
	assert.Equal(t, []string{"start:second"}, prompts)
	assert.Empty(t, steers)

	rt2.finish(t, "turn-1", turn.StatusCompleted, "")
	require.NoError(t, awaitErr(t, second))
	assert.Equal(t, 2, f.count())
}

func TestGenerateReply_StartupFailureDisposesSession(t *testing.T) {
	f := newFactory(func(n int, r *fakeRuntime) {
		if n == 0 {
			r.initErr = stderrors.New("handshake failed")
		}
	})
	c := newCoordinator(t, f, nil)

	err := awaitErr(t, reply(c, "c1", "first"))
	require.ErrorContains(t, err, "handshake failed")

	rt := f.await(t)
	_, _, _, closed := rt.snapshot()
	assert.Equal(t, 1, closed)
	assert.False(t, c.HasSession("c1"))

	second := reply(c, "c1", "second")
	rt2 := f.await(t)
	rt2.awaitTurn(t)
	rt2.finish(t, "turn-1", turn.StatusCompleted, "")
	require.NoError(t, awaitErr(t, second))
}

func TestGenerateReply_FactoryFailure(t *testing.T) {
	f := newFactory(nil)
	f.err = stderrors.New("no binary")
	c := newCoordinator(t, f, nil)

	err := awaitErr(t, reply(c, "c1", "first"))
	require.ErrorContains(t, err, "no binary")
	assert.False(t, c.HasSession("c1"))
}

func TestGenerateReply_MessageQueuedBehindStartIsSteered(t *testing.T) {
	gate := make(chan struct{})
	f := newFactory(func(_ int, r *fakeRuntime) { r.initGate = gate })
	c := newCoordinator(t, f, nil)

	first := reply(c, "c1", "first")
	rt := f.await(t)

	second := reply(c, "c1", "second")
	assertPending(t, second)

	close(gate)
	rt.awaitTurn(t)
	require.NoError(t, awaitErr(t, second))

	_, prompts, steers, _ := rt.snapshot()
	assert.Len(t, prompts, 1)
	require.Len(t, steers, 1)
	assert.Equal(t, "turn-1", steers[0].turnID)

	rt.finish(t, "turn-1", turn.StatusCompleted, "")
	require.NoError(t, awaitErr(t, first))
	assert.Equal(t, 1, f.count())
}

func TestSubmit_KeepsChannelOrder(t *testing.T) {
	f := newFactory(nil)
	c := newCoordinator(t, f, nil)

	msg := func(text string) prompt.Message {
		return prompt.Message{ChannelID: "c1", Author: "ana", Text: text}
	}

	first := c.Submit(context.Background(), msg("first"))
	second := c.Submit(context.Background(), msg("second"))

	rt := f.await(t)
	rt.awaitTurn(t)
	require.NoError(t, awaitErr(t, second))

	_, prompts, steers, _ := rt.snapshot()
	assert.Equal(t, []string{"start:first"}, prompts)
	require.Len(t, steers, 1)
	assert.Equal(t, "steer:second", steers[0].prompt)
	assert.Equal(t, 1, f.count())

	rt.finish(t, "turn-1", turn.StatusCompleted, "")
	require.NoError(t, awaitErr(t, first))
}

func TestGenerateReply_ChannelsAreIndependent(t *testing.T) {
	f := newFactory(nil)
	c := newCoordinator(t, f, nil)

	one := reply(c, "c1", "hello")
	rtA := f.await(t)
	rtA.awaitTurn(t)

	two := reply(c, "c2", "hello")
	rtB := f.await(t)
	rtB.awaitTurn(t)

	require.NotSame(t, rtA, rtB)

	runtimes := map[string]*fakeRuntime{rtA.channelID: rtA, rtB.channelID: rtB}
	require.Contains(t, runtimes, "c1")
	require.Contains(t, runtimes, "c2")

	runtimes["c2"].finish(t, "turn-1", turn.StatusCompleted, "")
	assert.True(t, c.HasSession("c1"))
	assert.Eventually(t, func() bool { return !c.HasSession("c2") }, waitTimeout, 5*time.Millisecond)

	runtimes["c1"].finish(t, "turn-1", turn.StatusCompleted, "")

	require.NoError(t, awaitErr(t, one))
	require.NoError(t, awaitErr(t, two))
}

func TestGenerateReply_TurnCompletedCallback(t *testing.T) {
	var mu sync.Mutex

	var calls []string

	f := newFactory(nil)
	c := newCoordinator(t, f, func(o *Options) {
		o.OnTurnCompleted = func(_ context.Context, channelID string, res turn.Result) error {
			mu.Lock()
			defer mu.Unlock()

			calls = append(calls, channelID+"/"+res.TurnID)

			return stderrors.New("callback exploded")
		}
	})

	first := reply(c, "c1", "first")
	rt := f.await(t)
	rt.awaitTurn(t)
	rt.finish(t, "turn-1", turn.StatusCompleted, "")

	require.NoError(t, awaitErr(t, first))

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"c1/turn-1"}, calls)
}

func TestGenerateReply_ToolCallObserverKeyedByChannel(t *testing.T) {
	var got []string

	c := newCoordinator(t, newFactory(nil), func(o *Options) {
		o.OnToolCall = func(channelID string, ev turn.Event) { got = append(got, channelID+":"+ev.ToolCall.Name) }
	})

	observe := c.observerFor("c9")
	require.NotNil(t, observe)
	observe(turn.Event{Kind: turn.ToolCallStarted, ToolCall: turn.ToolCall{Name: "ls"}})

	assert.Equal(t, []string{"c9:ls"}, got)

	plain := newCoordinator(t, newFactory(nil), nil)
	assert.Nil(t, plain.observerFor("c9"))
}

func TestGenerateReply_ContextCancelled(t *testing.T) {
	f := newFactory(nil)
	c := newCoordinator(t, f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)

	go func() { errc <- c.GenerateReply(ctx, prompt.Message{ChannelID: "c1", Text: "first"}) }()

	rt := f.await(t)
	rt.awaitTurn(t)
	cancel()

	require.ErrorIs(t, awaitErr(t, errc), context.Canceled)

	// The session keeps running for the turn already in flight.
	assert.True(t, c.HasSession("c1"))
	rt.finish(t, "turn-1", turn.StatusCompleted, "")
	assert.Eventually(t, func() bool { return !c.HasSession("c1") }, waitTimeout, 5*time.Millisecond)
}

func TestClose_FailsWaitingCallers(t *testing.T) {
	f := newFactory(nil)
	c := newCoordinator(t, f, nil)

	first := reply(c, "c1", "first")
	rt := f.await(t)
	rt.awaitTurn(t)

	require.NoError(t, c.Close())
	require.ErrorIs(t, awaitErr(t, first), errors.ErrCoordinatorClosed)

	_, _, _, closed := rt.snapshot()
	assert.Equal(t, 1, closed)

	err := c.GenerateReply(context.Background(), prompt.Message{ChannelID: "c1", Text: "late"})
	require.ErrorIs(t, err, errors.ErrCoordinatorClosed)

	_, err = c.GenerateHeartbeat(context.Background(), "tick")
	require.ErrorIs(t, err, errors.ErrCoordinatorClosed)

	require.NoError(t, c.Close())
}

func TestClose_WhileTurnStarting(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	f := newFactory(func(_ int, r *fakeRuntime) {
		r.turnGate = gate
		r.entered = entered
	})
	c := newCoordinator(t, f, nil)

	first := reply(c, "c1", "first")
	f.await(t)

	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatal("turn start not reached")
	}

	require.NoError(t, c.Close())
	close(gate)

	require.ErrorIs(t, awaitErr(t, first), errors.ErrCoordinatorClosed)
}

func TestGenerateHeartbeat(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFactory(nil)
		c := newCoordinator(t, f, func(o *Options) { o.HeartbeatChannel = "ops" })

		type outcome struct {
			res turn.Result
			err error
		}

		done := make(chan outcome, 1)

		go func() {
			res, err := c.GenerateHeartbeat(context.Background(), "check")
			done <- outcome{res: res, err: err}
		}()

		rt := f.await(t)
		rt.awaitTurn(t)
		rt.finish(t, "turn-1", turn.StatusCompleted, "")

		out := <-done
		require.NoError(t, out.err)
		assert.Equal(t, "done", out.res.AssistantText)

		_, prompts, _, closed := rt.snapshot()
		assert.Equal(t, []string{"heartbeat:check"}, prompts)
		assert.Equal(t, 1, closed)
		assert.Equal(t, "ops", rt.channelID)
		assert.False(t, c.HasSession("ops"))
	})

	t.Run("turn failure propagates", func(t *testing.T) {
		f := newFactory(nil)
		c := newCoordinator(t, f, nil)

		done := make(chan error, 1)

		go func() {
			_, err := c.GenerateHeartbeat(context.Background(), "check")
			done <- err
		}()

		rt := f.await(t)
		rt.awaitTurn(t)
		rt.finish(t, "turn-1", turn.StatusFailed, "sandbox denied")

		require.ErrorContains(t, awaitErr(t, done), "sandbox denied")

		_, _, _, closed := rt.snapshot()
		assert.Equal(t, 1, closed)
	})

	t.Run("initialize failure closes runtime", func(t *testing.T) {
		f := newFactory(func(_ int, r *fakeRuntime) { r.initErr = stderrors.New("spawn failed") })
		c := newCoordinator(t, f, nil)

		_, err := c.GenerateHeartbeat(context.Background(), "check")
		require.ErrorContains(t, err, "spawn failed")

		rt := f.await(t)
		_, _, _, closed := rt.snapshot()
		assert.Equal(t, 1, closed)
	})
}
