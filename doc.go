// Package relay connects chat channels to a coding agent running as a
// JSON-RPC app server over stdio.
//
// Each channel gets its own session: a dedicated agent process, one thread
// and at most one active turn. A message arriving while a turn runs is
// steered into that turn; when the agent rejects the steer, a new turn is
// started on the same thread instead.
//
// # Basic Usage
//
//	r, err := relay.New(
//	    relay.WithLogger(slog.Default()),
//	    relay.WithModel("gpt-5-codex"),
//	    relay.WithToolServer("http://127.0.0.1:8765"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	err = r.GenerateReply(ctx, relay.Message{
//	    ChannelID: "general",
//	    Author:    "ana",
//	    Text:      "What does the build do?",
//	})
//
// The agent answers through the tool server's send_message tool, so
// GenerateReply returns only an error.
//
// Submit is the non-blocking form. It queues the message on its session
// before returning, so an adapter that reads messages one by one can keep
// their order per channel while waiting for outcomes concurrently.
//
// # Heartbeats
//
// GenerateHeartbeat runs one turn on a fresh runtime that is not tied to a
// session and returns its result:
//
//	res, err := r.GenerateHeartbeat(ctx, "Check the deploy queue.")
//	if err == nil {
//	    fmt.Println(res.AssistantText)
//	}
//
// # Error Handling
//
// Errors are typed and can be inspected with errors.Is and errors.AsType:
//
//	if err := r.GenerateReply(ctx, msg); err != nil {
//	    if turnErr, ok := errors.AsType[*relay.TurnError](err); ok {
//	        log.Printf("turn %s ended %s", turnErr.TurnID, turnErr.Status)
//	    }
//	    if errors.Is(err, relay.ErrAgentNotFound) {
//	        log.Fatal("install the agent first")
//	    }
//	}
//
// # Requirements
//
// The agent binary must be installed and available in PATH, or configured
// with WithAgentPath.
package relay
