package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/codex-relay/internal/client"
	"github.com/wagiedev/codex-relay/internal/config"
	"github.com/wagiedev/codex-relay/internal/turn"
)

// autoRuntime finishes every turn right away with a fixed status.
type autoRuntime struct {
	mu      sync.Mutex
	status  TurnStatus
	params  []ThreadParams
	prompts []string
	closed  bool
}

func (r *autoRuntime) Initialize(context.Context) error { return nil }

func (r *autoRuntime) StartThread(_ context.Context, p ThreadParams) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.params = append(r.params, p)

	return "thread-1", nil
}

func (r *autoRuntime) StartTurn(_ context.Context, threadID, text string) (*Turn, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, text)
	id := fmt.Sprintf("turn-%d", len(r.prompts))
	r.mu.Unlock()

	handle, settle := client.NewTurn(id, threadID)

	res := turn.Result{Status: r.status, AssistantText: "answer"}
	if r.status != TurnCompleted {
		res.ErrorMessage = "agent gave up"
	}

	settle(res)

	return handle, nil
}

func (r *autoRuntime) SteerTurn(context.Context, string, string, string) error { return nil }

func (r *autoRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	return nil
}

func factoryFor(rt *autoRuntime, channels *[]string) RuntimeFactory {
	var mu sync.Mutex

	return func(channelID string, _ turn.Observer) (Runtime, error) {
		mu.Lock()
		*channels = append(*channels, channelID)
		mu.Unlock()

		return rt, nil
	}
}

func TestNew_ValidatesAgentSettings(t *testing.T) {
	_, err := New(WithApprovalPolicy("sometimes"))
	validation, ok := errors.AsType[*ValidationError](err)
	require.True(t, ok, "expected ValidationError, got %v", err)
	assert.Equal(t, "approval policy", validation.Field)

	_, err = New(WithSandboxMode("chroot"))
	validation, ok = errors.AsType[*ValidationError](err)
	require.True(t, ok, "expected ValidationError, got %v", err)
	assert.Equal(t, "sandbox mode", validation.Field)

	r, err := New(WithApprovalPolicy("on_request"), WithSandboxMode("readOnly"))
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestNew_RejectsBrokenPersona(t *testing.T) {
	_, err := New(WithPersona(Persona{MessageTemplate: "{{.Text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message template")
}

func TestRelay_GenerateReply(t *testing.T) {
	rt := &autoRuntime{status: TurnCompleted}

	var channels []string

	completed := make(chan TurnResult, 1)

	r, err := New(
		WithRuntimeFactory(factoryFor(rt, &channels)),
		WithPersona(Persona{
			Name:            "Ops",
			Instructions:    "You are {{.Name}}.",
			MessageTemplate: "{{.Author}}: {{.Text}}",
		}),
		WithOnTurnCompleted(func(_ context.Context, channelID string, res TurnResult) error {
			assert.Equal(t, "c1", channelID)
			completed <- res

			return nil
		}),
	)
	require.NoError(t, err)

	defer func() { require.NoError(t, r.Close()) }()

	err = r.GenerateReply(context.Background(), Message{ChannelID: "c1", Author: "ana", Text: "status?"})
	require.NoError(t, err)

	select {
	case res := <-completed:
		assert.Equal(t, TurnCompleted, res.Status)
		assert.Equal(t, "answer", res.AssistantText)
	case <-time.After(2 * time.Second):
		t.Fatal("turn completion callback not called")
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	require.Len(t, rt.params, 1)
	assert.Equal(t, "You are Ops.", rt.params[0].Instructions)
	assert.Equal(t, []string{"ana: status?"}, rt.prompts)
	assert.Equal(t, []string{"c1"}, channels)
	assert.True(t, rt.closed)
	assert.False(t, r.HasSession("c1"))
}

func TestRelay_GenerateReplyFailedTurn(t *testing.T) {
	var channels []string

	r, err := New(WithRuntimeFactory(factoryFor(&autoRuntime{status: TurnFailed}, &channels)))
	require.NoError(t, err)

	defer func() { require.NoError(t, r.Close()) }()

	err = r.GenerateReply(context.Background(), Message{ChannelID: "c1", Text: "hi"})

	turnErr, ok := errors.AsType[*TurnError](err)
	require.True(t, ok, "expected TurnError, got %v", err)
	assert.Equal(t, "turn-1", turnErr.TurnID)
	assert.Equal(t, "agent gave up", turnErr.Error())
}

func TestRelay_SubmitDeliversOutcome(t *testing.T) {
	var channels []string

	r, err := New(WithRuntimeFactory(factoryFor(&autoRuntime{status: TurnFailed}, &channels)))
	require.NoError(t, err)

	defer func() { require.NoError(t, r.Close()) }()

	select {
	case err := <-r.Submit(context.Background(), Message{ChannelID: "c1", Text: "hi"}):
		_, ok := errors.AsType[*TurnError](err)
		require.True(t, ok, "expected TurnError, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit outcome not delivered")
	}
}

func TestRelay_GenerateHeartbeat(t *testing.T) {
	rt := &autoRuntime{status: TurnCompleted}

	var channels []string

	r, err := New(
		WithRuntimeFactory(factoryFor(rt, &channels)),
		WithHeartbeatChannel("ops"),
	)
	require.NoError(t, err)

	defer func() { require.NoError(t, r.Close()) }()

	res, err := r.GenerateHeartbeat(context.Background(), "check the queue")
	require.NoError(t, err)
	assert.Equal(t, "answer", res.AssistantText)
	assert.Equal(t, []string{"ops"}, channels)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	require.Len(t, rt.prompts, 1)
	assert.Contains(t, rt.prompts[0], "check the queue")
	assert.True(t, rt.closed)
}

func TestRelay_ClosedRejectsMessages(t *testing.T) {
	var channels []string

	r, err := New(WithRuntimeFactory(factoryFor(&autoRuntime{status: TurnCompleted}, &channels)))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	err = r.GenerateReply(context.Background(), Message{ChannelID: "c1", Text: "hi"})
	require.ErrorIs(t, err, ErrCoordinatorClosed)

	_, err = r.GenerateHeartbeat(context.Background(), "tick")
	require.ErrorIs(t, err, ErrCoordinatorClosed)
	assert.Empty(t, channels)
}

type nopTransport struct{ config.Transport }

func TestRelay_RuntimeOptions(t *testing.T) {
	var transportChannels []string

	r, err := New(
		WithLogger(NopLogger()),
		WithModel("gpt-test"),
		WithEnv(map[string]string{"A": "1"}),
		WithToolServer("http://127.0.0.1:9000/"),
		WithTransportFactory(func(channelID string) Transport {
			transportChannels = append(transportChannels, channelID)

			return nopTransport{}
		}),
	)
	require.NoError(t, err)

	defer func() { require.NoError(t, r.Close()) }()

	opts := r.runtimeOptions("c 1")
	assert.Equal(t, "gpt-test", opts.Model)
	assert.Equal(t, "http://127.0.0.1:9000/mcp?channel=c+1", opts.ToolServerURL)
	assert.IsType(t, nopTransport{}, opts.Transport)
	assert.Equal(t, []string{"c 1"}, transportChannels)

	opts.Env["A"] = "2"
	assert.Equal(t, "1", r.options.Runtime.Env["A"], "runtime options are copies")

	heartbeat := r.runtimeOptions("")
	assert.Empty(t, heartbeat.ToolServerURL)
}

func TestRelay_DefaultRuntimeIsClient(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	defer func() { require.NoError(t, r.Close()) }()

	rt, err := r.newRuntime("c1", nil)
	require.NoError(t, err)
	assert.IsType(t, &client.Client{}, rt)
	require.NoError(t, rt.Close())
}
