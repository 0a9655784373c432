// Package protocol implements the JSON-RPC client spoken with the codex
// app-server over newline-delimited stdio.
//
// The Controller handles:
//   - Sending requests with monotonically increasing integer ids
//   - Correlating responses, tolerating ids re-encoded as numeric strings
//   - Fanning out notifications to observers in arrival order
//   - Answering inbound requests from the agent (approvals are declined)
//   - Rejecting every pending request when the process exits or fails
//
// Example usage:
//
//	transport := subprocess.NewProcess(log, options)
//
//	controller := protocol.NewController(log, transport)
//	controller.Start(ctx)
//	transport.Start(ctx)
//
//	result, err := controller.Request(ctx, "thread/start", params)
package protocol
