// Package config provides configuration types for the relay.
package config

import "context"

// Exit describes how the agent process ended.
type Exit struct {
	// Code is the process exit code, -1 when killed by a signal.
	Code int
	// Err is the wait error, nil on a clean exit.
	Err error
	// Stderr holds the tail of the process's stderr.
	Stderr string
	// Intentional is true when the exit followed a call to Close.
	Intentional bool
}

// Transport defines the interface for line-oriented communication with the
// agent process. Implement this to provide custom transports for testing or
// alternative ways of reaching an agent.
//
// The default implementation is subprocess.Process which spawns a child.
// Custom transports can be injected via Options.Transport.
type Transport interface {
	// Start spawns the process. Spawn failures are returned and also
	// delivered to OnError handlers.
	Start(ctx context.Context) error

	// WriteLine serializes v as JSON and writes it as one newline-terminated line.
	// This method must be safe for concurrent use.
	WriteLine(ctx context.Context, v any) error

	// OnLine registers a handler for every line the process writes to stdout.
	// Lines are delivered in order from a single goroutine.
	OnLine(handler func(line string)) (unsubscribe func())

	// OnError registers a handler for transport failures. Fires at most once.
	OnError(handler func(err error)) (unsubscribe func())

	// OnExit registers a handler for process exit. Fires at most once.
	OnExit(handler func(exit Exit)) (unsubscribe func())

	// Close requests graceful termination and forces it after a grace period.
	// It's safe to call Close multiple times.
	Close() error
}
