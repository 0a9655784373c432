package relay

import "github.com/wagiedev/codex-relay/internal/errors"

// Re-export error types from internal package

// AgentNotFoundError indicates the agent binary was not found.
type AgentNotFoundError = errors.AgentNotFoundError

// ConnectionError indicates failure to spawn the agent process.
type ConnectionError = errors.ConnectionError

// ProcessError indicates the agent process exited while it was still needed.
type ProcessError = errors.ProcessError

// JSONDecodeError indicates a line from the agent could not be decoded.
type JSONDecodeError = errors.JSONDecodeError

// RPCError is an error response from the agent.
type RPCError = errors.RPCError

// ValidationError indicates an invalid approval policy or sandbox mode.
type ValidationError = errors.ValidationError

// TurnError is a turn that did not complete.
type TurnError = errors.TurnError

// RelayError is the base interface for all relay errors.
type RelayError = errors.RelayError

// Re-export sentinel errors from internal package.
var (
	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.ErrTransportNotConnected

	// ErrControllerStopped indicates the protocol controller has stopped.
	ErrControllerStopped = errors.ErrControllerStopped

	// ErrProcessExited matches every ProcessError.
	ErrProcessExited = errors.ErrProcessExited

	// ErrClientClosed indicates a runtime has been closed and cannot be reused.
	ErrClientClosed = errors.ErrClientClosed

	// ErrMissingThreadID indicates the agent did not return a thread id.
	ErrMissingThreadID = errors.ErrMissingThreadID

	// ErrMissingTurnID indicates the agent did not return a turn id.
	ErrMissingTurnID = errors.ErrMissingTurnID

	// ErrSessionClosed indicates a session was torn down under an operation.
	ErrSessionClosed = errors.ErrSessionClosed

	// ErrCoordinatorClosed indicates the relay has been closed.
	ErrCoordinatorClosed = errors.ErrCoordinatorClosed

	// ErrAgentNotFound matches every AgentNotFoundError.
	ErrAgentNotFound = errors.ErrAgentNotFound
)
