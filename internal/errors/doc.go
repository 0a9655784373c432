// Package errors defines error types for the relay.
//
// This package provides structured error types that wrap the different
// failure scenarios of talking to the agent process: transport failures,
// remote protocol errors, validation failures and failed turns. All error
// types support error unwrapping and can be checked using errors.Is,
// errors.As, and errors.AsType.
package errors
