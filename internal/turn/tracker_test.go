package turn

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/codex-relay/internal/errors"
	"github.com/wagiedev/codex-relay/internal/protocol"
)

func notify(method string, params map[string]any) protocol.Notification {
	return protocol.Notification{Method: method, Params: params}
}

func delta(thread, turnID, text string) protocol.Notification {
	return notify("item/agentMessage/delta", map[string]any{"threadId": thread, "turnId": turnID, "delta": text})
}

func agentMessage(thread, turnID, text string) protocol.Notification {
	return notify("item/completed", map[string]any{
		"threadId": thread,
		"turnId":   turnID,
		"item":     map[string]any{"id": "m1", "type": "agentMessage", "text": text},
	})
}

func completed(thread, turnID, status string) protocol.Notification {
	return notify("turn/completed", map[string]any{
		"threadId": thread,
		"turn":     map[string]any{"id": turnID, "status": status},
	})
}

func TestTracker_FinalTextWins(t *testing.T) {
	tr := NewTracker(slog.Default(), "thread-1", nil)
	tr.Bind("turn-1")

	tr.HandleNotification(delta("thread-1", "turn-1", "Hel"))
	tr.HandleNotification(delta("thread-1", "turn-1", "lo"))
	tr.HandleNotification(agentMessage("thread-1", "turn-1", "  Hello there  "))
	tr.HandleNotification(completed("thread-1", "turn-1", "completed"))

	res := tr.Result()
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, "Hello there", res.AssistantText)
	require.Equal(t, "turn-1", res.TurnID)
	require.NoError(t, res.Err())
}

func TestTracker_DeltaFallback(t *testing.T) {
	tr := NewTracker(slog.Default(), "thread-1", nil)
	tr.Bind("turn-1")

	tr.HandleNotification(delta("thread-1", "turn-1", " partial "))
	tr.HandleNotification(delta("thread-1", "turn-1", "answer\n"))
	tr.HandleNotification(completed("thread-1", "turn-1", "completed"))

	require.Equal(t, "partial answer", tr.Result().AssistantText)
}

func TestTracker_SnakeCaseNotifications(t *testing.T) {
	tr := NewTracker(slog.Default(), "thread-1", nil)
	tr.Bind("turn-1")

	tr.HandleNotification(notify("item/agent_message/delta", map[string]any{
		"thread_id": "thread-1", "turn_id": "turn-1", "delta": "hi",
	}))
	tr.HandleNotification(notify("thread/token_usage/updated", map[string]any{
		"thread_id": "thread-1", "turn_id": "turn-1",
		"token_usage": map[string]any{"total": map[string]any{"input_tokens": 3, "output_tokens": 4}},
	}))
	tr.HandleNotification(notify("turn/completed", map[string]any{
		"thread_id": "thread-1", "turn": map[string]any{"id": "turn-1", "status": "completed"},
	}))

	res := tr.Result()
	require.Equal(t, "hi", res.AssistantText)
	require.NotNil(t, res.TokenUsage)
	require.Equal(t, int64(7), res.TokenUsage.Total.TotalTokens)
}

func TestTracker_StatusNormalization(t *testing.T) {
	tests := []struct {
		reported string
		expected Status
	}{
		{reported: "completed", expected: StatusCompleted},
		{reported: "interrupted", expected: StatusInterrupted},
		{reported: "failed", expected: StatusFailed},
		{reported: "inProgress", expected: StatusFailed},
		{reported: "", expected: StatusFailed},
	}

	for _, tc := range tests {
		t.Run(tc.reported, func(t *testing.T) {
			tr := NewTracker(slog.Default(), "thread-1", nil)
			tr.Bind("turn-1")
			tr.HandleNotification(completed("thread-1", "turn-1", tc.reported))

			require.Equal(t, tc.expected, tr.Result().Status)
		})
	}
}

func TestTracker_ErrorPrecedence(t *testing.T) {
	tr := NewTracker(slog.Default(), "thread-1", nil)
	tr.Bind("turn-1")

	tr.HandleNotification(notify("error", map[string]any{"turnId": "turn-1", "error": map[string]any{"message": "first"}}))
	tr.HandleNotification(notify("error", map[string]any{"turnId": "turn-1", "error": map[string]any{"message": "usage limit"}}))
	tr.HandleNotification(notify("turn/completed", map[string]any{
		"threadId": "thread-1",
		"turn": map[string]any{
			"id": "turn-1", "status": "failed",
			"error": map[string]any{"message": "from completion"},
		},
	}))

	res := tr.Result()
	require.Equal(t, "usage limit", res.ErrorMessage)

	turnErr, ok := stderrors.AsType[*errors.TurnError](res.Err())
	require.True(t, ok)
	require.Equal(t, "failed", turnErr.Status)
	require.Equal(t, "usage limit", turnErr.Error())
}

func TestTracker_CompletionErrorAdoptedWhenNoneRecorded(t *testing.T) {
	tr := NewTracker(slog.Default(), "thread-1", nil)
	tr.Bind("turn-1")

	tr.HandleNotification(notify("turn/completed", map[string]any{
		"threadId": "thread-1",
		"turn":     map[string]any{"id": "turn-1", "status": "failed", "error": map[string]any{"message": "sandbox denied"}},
	}))

	require.Equal(t, "sandbox denied", tr.Result().ErrorMessage)
}

func TestTracker_NoCrossContamination(t *testing.T) {
	oldTurn := NewTracker(slog.Default(), "thread-1", nil)
	oldTurn.Bind("turn-1")

	newTurn := NewTracker(slog.Default(), "thread-1", nil, "turn-1")

	feed := func(n protocol.Notification) {
		oldTurn.HandleNotification(n)
		newTurn.HandleNotification(n)
	}

	// Before the new tracker is bound, events of the old turn must not leak in.
	feed(delta("thread-1", "turn-1", "old "))
	newTurn.Bind("turn-2")

	feed(delta("thread-1", "turn-2", "new "))
	feed(delta("thread-1", "turn-1", "text"))
	feed(agentMessage("thread-1", "turn-2", "new answer"))
	feed(notify("thread/tokenUsage/updated", map[string]any{
		"threadId": "thread-1", "turnId": "turn-1",
		"tokenUsage": map[string]any{"total": map[string]any{"inputTokens": 10}},
	}))
	feed(notify("error", map[string]any{"threadId": "thread-1", "turnId": "turn-2", "message": "new failure"}))
	feed(completed("thread-1", "turn-1", "completed"))

	old := oldTurn.Result()
	require.Equal(t, StatusCompleted, old.Status)
	require.Equal(t, "old text", old.AssistantText)
	require.NotNil(t, old.TokenUsage)
	require.Empty(t, old.ErrorMessage)

	select {
	case <-newTurn.Done():
		t.Fatal("old turn completion must not finish the new tracker")
	default:
	}

	fresh := newTurn.Result()
	require.Equal(t, "new answer", fresh.AssistantText)
	require.Nil(t, fresh.TokenUsage)
	require.Equal(t, "new failure", fresh.ErrorMessage)

	feed(completed("thread-1", "turn-2", "failed"))
	require.Equal(t, StatusFailed, newTurn.Result().Status)
	require.Equal(t, StatusCompleted, oldTurn.Result().Status)
}

func TestTracker_RejectsForeignThread(t *testing.T) {
	tr := NewTracker(slog.Default(), "thread-1", nil)

	tr.HandleNotification(delta("thread-2", "", "nope"))
	tr.HandleNotification(delta("", "", "yes"))

	require.Equal(t, "yes", tr.Result().AssistantText)
}

func TestTracker_ImmutableAfterTerminal(t *testing.T) {
	tr := NewTracker(slog.Default(), "thread-1", nil)
	tr.Bind("turn-1")

	tr.HandleNotification(agentMessage("thread-1", "turn-1", "done"))
	tr.HandleNotification(completed("thread-1", "turn-1", "completed"))
	tr.HandleNotification(agentMessage("thread-1", "turn-1", "late"))
	tr.HandleNotification(completed("thread-1", "turn-1", "failed"))

	res := tr.Result()
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, "done", res.AssistantText)
}

func TestTracker_CompletionBeforeBind(t *testing.T) {
	tr := NewTracker(slog.Default(), "thread-1", nil)

	tr.HandleNotification(completed("thread-1", "turn-9", "completed"))
	tr.Bind("turn-9")

	res := tr.Wait(context.Background(), time.Second, nil)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, "turn-9", res.TurnID)
}

func TestTracker_ObserverEvents(t *testing.T) {
	var mu sync.Mutex

	var events []Event

	tr := NewTracker(slog.Default(), "thread-1", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()

		events = append(events, ev)
	})
	tr.Bind("turn-1")

	item := map[string]any{"id": "c1", "type": "commandExecution", "command": "ls -la", "status": "inProgress"}
	tr.HandleNotification(notify("item/started", map[string]any{"threadId": "thread-1", "turnId": "turn-1", "item": item}))

	done := map[string]any{
		"id": "c1", "type": "commandExecution", "command": "ls -la",
		"status": "completed", "aggregatedOutput": "total 0",
	}
	tr.HandleNotification(notify("item/completed", map[string]any{"threadId": "thread-1", "turnId": "turn-1", "item": done}))
	tr.HandleNotification(notify("item/started", map[string]any{"threadId": "thread-1", "turnId": "turn-other", "item": item}))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, events, 2)
	assert.Equal(t, ToolCallStarted, events[0].Kind)
	assert.Equal(t, ToolCallCompleted, events[1].Kind)
	assert.Equal(t, "turn-1", events[1].TurnID)
	assert.Equal(t, "ls -la", events[1].ToolCall.Input)
	assert.Equal(t, "total 0", events[1].ToolCall.Output)

	calls := tr.Result().ToolCalls
	require.Len(t, calls, 1)
	require.Equal(t, "c1", calls[0].ID)
}

func TestTracker_WaitTimeout(t *testing.T) {
	tr := NewTracker(slog.Default(), "thread-1", nil)
	tr.Bind("turn-1")
	tr.HandleNotification(delta("thread-1", "turn-1", "half an answer"))

	var interrupts atomic.Int32

	res := tr.Wait(context.Background(), 50*time.Millisecond, func() { interrupts.Add(1) })

	require.Equal(t, StatusFailed, res.Status)
	require.Contains(t, res.ErrorMessage, "timed out after 50ms")
	require.Equal(t, "half an answer", res.AssistantText)
	require.Equal(t, int32(1), interrupts.Load())

	// Late completion does not change the synthesized result.
	tr.HandleNotification(completed("thread-1", "turn-1", "completed"))
	require.Equal(t, StatusFailed, tr.Result().Status)
	require.Equal(t, int32(1), interrupts.Load())
}

func TestTracker_WaitReturnsOnCompletion(t *testing.T) {
	tr := NewTracker(slog.Default(), "thread-1", nil)
	tr.Bind("turn-1")

	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.HandleNotification(completed("thread-1", "turn-1", "interrupted"))
	}()

	called := false
	res := tr.Wait(context.Background(), 5*time.Second, func() { called = true })

	require.Equal(t, StatusInterrupted, res.Status)
	require.False(t, called)
	require.Error(t, res.Err())
}

func TestTracker_WaitContextCancelled(t *testing.T) {
	tr := NewTracker(slog.Default(), "thread-1", nil)
	tr.Bind("turn-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := tr.Wait(ctx, time.Minute, nil)
	require.Equal(t, StatusFailed, res.Status)
	require.Contains(t, res.ErrorMessage, "context canceled")
}
