package relay

import (
	"github.com/wagiedev/codex-relay/internal/client"
	"github.com/wagiedev/codex-relay/internal/config"
	"github.com/wagiedev/codex-relay/internal/coordinator"
	"github.com/wagiedev/codex-relay/internal/message"
	"github.com/wagiedev/codex-relay/internal/permission"
	"github.com/wagiedev/codex-relay/internal/prompt"
	"github.com/wagiedev/codex-relay/internal/sandbox"
	"github.com/wagiedev/codex-relay/internal/turn"
)

// Re-export types from internal packages

// ===== Options =====

// RuntimeOptions configures the agent runtime of every session.
type RuntimeOptions = config.Options

// ApprovalPolicy is the agent's command approval policy.
type ApprovalPolicy = permission.Policy

const (
	ApprovalUntrusted = permission.PolicyUntrusted
	ApprovalOnFailure = permission.PolicyOnFailure
	ApprovalOnRequest = permission.PolicyOnRequest
	ApprovalNever     = permission.PolicyNever
)

// SandboxMode is the agent's sandbox mode.
type SandboxMode = sandbox.Mode

const (
	SandboxReadOnly         = sandbox.ModeReadOnly
	SandboxWorkspaceWrite   = sandbox.ModeWorkspaceWrite
	SandboxDangerFullAccess = sandbox.ModeDangerFullAccess
)

// WorkspaceWrite tunes the workspace-write sandbox.
type WorkspaceWrite = sandbox.WorkspaceWrite

// ===== Messages and Prompts =====

// Message is one inbound chat message.
type Message = prompt.Message

// Persona supplies the prompt templates.
type Persona = prompt.Persona

// PromptBundle is the set of prompts for a new thread and its first turn.
type PromptBundle = prompt.Bundle

// Composer renders prompts from messages.
type Composer = coordinator.Composer

// ===== Turns =====

// TurnResult is the outcome of one turn.
type TurnResult = turn.Result

// TurnStatus is the terminal status of a turn.
type TurnStatus = turn.Status

const (
	TurnCompleted   = turn.StatusCompleted
	TurnFailed      = turn.StatusFailed
	TurnInterrupted = turn.StatusInterrupted
)

// ToolCall records one tool invocation the agent made during a turn.
type ToolCall = turn.ToolCall

// TokenUsage reports the tokens a thread consumed.
type TokenUsage = message.TokenUsage

// TurnEvent is a tool-call progress event.
type TurnEvent = turn.Event

// TurnEventKind identifies a TurnEvent.
type TurnEventKind = turn.EventKind

const (
	ToolCallStarted   = turn.ToolCallStarted
	ToolCallCompleted = turn.ToolCallCompleted
)

// TurnCompletedFunc is called with the result of the last active turn of a
// session when the session ends.
type TurnCompletedFunc = coordinator.TurnCompletedFunc

// ToolCallFunc receives tool-call events keyed by channel.
type ToolCallFunc = coordinator.ToolCallFunc

// ===== Runtimes =====

// Runtime is one agent connection used for the lifetime of one session.
type Runtime = coordinator.Runtime

// RuntimeFactory creates the runtime of a session.
type RuntimeFactory = coordinator.RuntimeFactory

// Turn is a running turn.
type Turn = client.Turn

// ThreadParams configures a new thread.
type ThreadParams = client.ThreadParams
