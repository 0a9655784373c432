package turn

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/codex-relay/internal/errors"
	"github.com/wagiedev/codex-relay/internal/message"
	"github.com/wagiedev/codex-relay/internal/protocol"
)

// Tracker aggregates the notifications of one turn.
type Tracker struct {
	log      *slog.Logger
	observer Observer

	mu        sync.Mutex
	threadID  string
	turnID    string
	excluded  map[string]struct{}
	delta     strings.Builder
	finalText string
	toolCalls []ToolCall
	usage     *message.TokenUsage
	errMsg    string
	status    Status
	done      chan struct{}
}

// NewTracker creates a tracker for a turn on threadID. Notifications tagged
// with any of the excluded turn ids are rejected even before Bind, which
// keeps trailing events of earlier turns on the same thread out.
func NewTracker(log *slog.Logger, threadID string, observer Observer, excluded ...string) *Tracker {
	t := &Tracker{
		log:      log.With("component", "turn_tracker", "thread_id", threadID),
		observer: observer,
		threadID: threadID,
		excluded: make(map[string]struct{}, len(excluded)),
		done:     make(chan struct{}),
	}

	for _, id := range excluded {
		if id != "" {
			t.excluded[id] = struct{}{}
		}
	}

	return t
}

// Bind fixes the turn id the tracker accepts events for.
func (t *Tracker) Bind(turnID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.turnID == "" {
		t.turnID = turnID
	}
}

// TurnID returns the bound turn id, empty before Bind.
func (t *Tracker) TurnID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.turnID
}

// Done is closed when the turn reaches a terminal status.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// HandleNotification parses and applies a protocol notification.
// Notifications the tracker does not consume are ignored.
func (t *Tracker) HandleNotification(n protocol.Notification) {
	ev, err := message.Parse(t.log, n.Method, n.Params)
	if err != nil {
		if !stderrors.Is(err, errors.ErrUnknownNotification) {
			t.log.Debug("Failed to parse notification", "method", n.Method, "error", err)
		}

		return
	}

	t.Handle(ev)
}

// Handle applies one event.
func (t *Tracker) Handle(ev message.Event) {
	var emit *Event

	t.mu.Lock()

	threadID, turnID := ev.Scope()
	if t.status != "" || !t.accepts(threadID, turnID) {
		t.mu.Unlock()

		return
	}

	switch e := ev.(type) {
	case *message.AgentMessageDelta:
		t.delta.WriteString(e.Delta)

	case *message.ItemStarted:
		if e.Item.IsToolCall() {
			emit = t.event(ToolCallStarted, turnID, toolCallFromItem(e.Item))
		}

	case *message.ItemCompleted:
		switch {
		case e.Item.IsAgentMessage():
			if text := strings.TrimSpace(e.Item.Text()); text != "" {
				t.finalText = text
			}
		case e.Item.IsToolCall():
			call := toolCallFromItem(e.Item)
			t.toolCalls = append(t.toolCalls, call)
			emit = t.event(ToolCallCompleted, turnID, call)
		}

	case *message.TokenUsageUpdated:
		usage := e.Usage
		t.usage = &usage

	case *message.ErrorEvent:
		if e.Message != "" {
			t.errMsg = e.Message
		}

	case *message.TurnCompleted:
		if t.errMsg == "" {
			t.errMsg = e.ErrorMessage
		}

		if t.turnID == "" {
			t.turnID = turnID
		}

		t.finishLocked(NormalizeStatus(e.Status))
	}

	t.mu.Unlock()

	if emit != nil && t.observer != nil {
		t.observer(*emit)
	}
}

// accepts reports whether an event tagged with the given ids belongs to this
// tracker. Untagged ids never contradict.
func (t *Tracker) accepts(threadID, turnID string) bool {
	if threadID != "" && t.threadID != "" && threadID != t.threadID {
		return false
	}

	if turnID == "" {
		return true
	}

	if _, foreign := t.excluded[turnID]; foreign {
		return false
	}

	return t.turnID == "" || turnID == t.turnID
}

func (t *Tracker) event(kind EventKind, turnID string, call ToolCall) *Event {
	if turnID == "" {
		turnID = t.turnID
	}

	return &Event{Kind: kind, ThreadID: t.threadID, TurnID: turnID, ToolCall: call}
}

func (t *Tracker) finishLocked(status Status) {
	t.status = status
	close(t.done)

	t.log.Debug("Turn reached terminal status", "turn_id", t.turnID, "status", status)
}

// Result returns a snapshot of the accumulated state. Status is empty while
// the turn is still collecting.
func (t *Tracker) Result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.resultLocked()
}

func (t *Tracker) resultLocked() Result {
	text := t.finalText
	if text == "" {
		text = strings.TrimSpace(t.delta.String())
	}

	var usage *message.TokenUsage
	if t.usage != nil {
		u := *t.usage
		usage = &u
	}

	return Result{
		TurnID:        t.turnID,
		AssistantText: text,
		ToolCalls:     append([]ToolCall(nil), t.toolCalls...),
		TokenUsage:    usage,
		ErrorMessage:  t.errMsg,
		Status:        t.status,
	}
}

// Wait blocks until the turn is terminal, the timeout elapses or ctx is done.
// The cause of ctx, when set, becomes the error message of an abandoned turn.
//
// When the wait gives up, the tracker is finalized as failed with the partial
// state accumulated so far, and onTimeout is called once so the caller can
// interrupt the turn remotely. A turn that completes concurrently wins and
// onTimeout is not called.
func (t *Tracker) Wait(ctx context.Context, timeout time.Duration, onTimeout func()) Result {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var reason string

	select {
	case <-t.done:
		return t.Result()
	case <-timer.C:
		reason = fmt.Sprintf("turn timed out after %s", timeout)
	case <-ctx.Done():
		reason = fmt.Sprintf("turn abandoned: %v", context.Cause(ctx))
	}

	t.mu.Lock()
	if t.status != "" {
		result := t.resultLocked()
		t.mu.Unlock()

		return result
	}

	t.errMsg = reason
	t.finishLocked(StatusFailed)
	result := t.resultLocked()
	t.mu.Unlock()

	t.log.Warn("Turn did not complete", "turn_id", result.TurnID, "reason", reason)

	if onTimeout != nil {
		onTimeout()
	}

	return result
}
