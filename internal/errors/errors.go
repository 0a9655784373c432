package errors

import (
	"errors"
	"fmt"
	"strings"
)

// RelayError is the base interface for all relay errors.
type RelayError interface {
	error
	IsRelayError() bool
}

// Compile-time verification that all error types implement RelayError.
var (
	_ RelayError = (*AgentNotFoundError)(nil)
	_ RelayError = (*ConnectionError)(nil)
	_ RelayError = (*ProcessError)(nil)
	_ RelayError = (*JSONDecodeError)(nil)
	_ RelayError = (*RPCError)(nil)
	_ RelayError = (*ValidationError)(nil)
	_ RelayError = (*TurnError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrTransportNotConnected indicates the transport has not been started.
	ErrTransportNotConnected = errors.New("transport not connected")

	// ErrControllerStopped indicates the protocol controller has stopped.
	ErrControllerStopped = errors.New("protocol controller stopped")

	// ErrStdinClosed indicates the child's stdin was closed.
	ErrStdinClosed = errors.New("stdin closed")

	// ErrProcessExited indicates the agent process went away while requests were pending.
	ErrProcessExited = errors.New("process exited unexpectedly")

	// ErrClientClosed indicates the runtime client has been closed and cannot be reused.
	ErrClientClosed = errors.New("client closed: runtimes are single-use")

	// ErrMissingThreadID indicates a thread/start response carried no thread id.
	ErrMissingThreadID = errors.New("response is missing thread id")

	// ErrMissingTurnID indicates a turn/start response carried no turn id.
	ErrMissingTurnID = errors.New("response is missing turn id")

	// ErrSessionClosed indicates an operation reached a session after teardown.
	ErrSessionClosed = errors.New("session closed")

	// ErrCoordinatorClosed indicates the session coordinator has been shut down.
	ErrCoordinatorClosed = errors.New("coordinator closed")

	// ErrAgentNotFound matches AgentNotFoundError with errors.Is.
	ErrAgentNotFound = errors.New("agent binary not found")

	// ErrUnknownNotification indicates a notification method the relay does not consume.
	// Callers should skip these rather than treating them as fatal.
	ErrUnknownNotification = errors.New("unknown notification method")
)

// AgentNotFoundError indicates the agent binary was not found.
type AgentNotFoundError struct {
	SearchedPaths []string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent binary not found in: %v", e.SearchedPaths)
}

// Is reports ErrAgentNotFound as matching.
func (e *AgentNotFoundError) Is(target error) bool {
	return target == ErrAgentNotFound
}

// IsRelayError implements RelayError.
func (e *AgentNotFoundError) IsRelayError() bool { return true }

// ConnectionError indicates failure to spawn or wire up the agent process.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to start agent process: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsRelayError implements RelayError.
func (e *ConnectionError) IsRelayError() bool { return true }

// ProcessError indicates the agent process exited while it was still needed.
// It matches ErrProcessExited with errors.Is.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent process exited unexpectedly (exit %d): %v", e.ExitCode, e.Err)
	}

	if e.Stderr != "" {
		return fmt.Sprintf("agent process exited unexpectedly (exit %d): %s", e.ExitCode, e.Stderr)
	}

	return fmt.Sprintf("agent process exited unexpectedly (exit %d)", e.ExitCode)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is reports ErrProcessExited as matching so callers need not know the concrete type.
func (e *ProcessError) Is(target error) bool {
	return target == ErrProcessExited
}

// IsRelayError implements RelayError.
func (e *ProcessError) IsRelayError() bool { return true }

// JSONDecodeError indicates a line from the agent could not be decoded.
// This error preserves the original raw data that failed to parse.
type JSONDecodeError struct {
	RawData string
	Err     error
}

func (e *JSONDecodeError) Error() string {
	return fmt.Sprintf("failed to decode JSON from agent: %v", e.Err)
}

func (e *JSONDecodeError) Unwrap() error {
	return e.Err
}

// IsRelayError implements RelayError.
func (e *JSONDecodeError) IsRelayError() bool { return true }

// RPCError is an error object returned by the agent for one of our requests.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// IsRelayError implements RelayError.
func (e *RPCError) IsRelayError() bool { return true }

// ValidationError indicates a value outside its allowed set, caught before
// anything is sent to the agent.
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q (allowed: %s)", e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

// IsRelayError implements RelayError.
func (e *ValidationError) IsRelayError() bool { return true }

// TurnError is a turn that finished with a status other than completed.
type TurnError struct {
	TurnID  string
	Status  string
	Message string
}

func (e *TurnError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return fmt.Sprintf("turn status is %s", e.Status)
}

// IsRelayError implements RelayError.
func (e *TurnError) IsRelayError() bool { return true }
