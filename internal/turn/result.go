package turn

import (
	"github.com/wagiedev/codex-relay/internal/errors"
	"github.com/wagiedev/codex-relay/internal/message"
)

// Status is the terminal status of a turn.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// NormalizeStatus maps a reported status onto the terminal set.
// Anything unrecognized is a failure.
func NormalizeStatus(s string) Status {
	switch Status(s) {
	case StatusCompleted, StatusInterrupted:
		return Status(s)
	default:
		return StatusFailed
	}
}

// ToolCall records one tool invocation the agent made during a turn.
type ToolCall struct {
	ID     string
	Kind   message.ItemKind
	Name   string
	Input  string
	Output string
	Status string
}

func toolCallFromItem(item message.Item) ToolCall {
	return ToolCall{
		ID:     item.ID,
		Kind:   item.Kind,
		Name:   item.ToolName(),
		Input:  item.ToolInput(),
		Output: item.ToolOutput(),
		Status: item.Status(),
	}
}

// Result is the outcome of one turn attempt.
type Result struct {
	TurnID        string
	AssistantText string
	ToolCalls     []ToolCall
	TokenUsage    *message.TokenUsage
	ErrorMessage  string
	Status        Status
}

// Err returns nil for a completed turn and a *errors.TurnError otherwise.
func (r Result) Err() error {
	if r.Status == StatusCompleted {
		return nil
	}

	return &errors.TurnError{
		TurnID:  r.TurnID,
		Status:  string(r.Status),
		Message: r.ErrorMessage,
	}
}

// EventKind identifies an observer event.
type EventKind string

const (
	ToolCallStarted   EventKind = "tool_call_started"
	ToolCallCompleted EventKind = "tool_call_completed"
)

// Event is delivered to an Observer as tool calls progress.
type Event struct {
	Kind     EventKind
	ThreadID string
	TurnID   string
	ToolCall ToolCall
}

// Observer receives tool-call events. It runs on the notification
// goroutine and must not block.
type Observer func(Event)
