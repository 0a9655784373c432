// Package coordinator keeps at most one agent session per channel and
// reconciles messages that arrive while a turn is running into that turn.
//
// Each session owns a FIFO queue. Start, append and turn-completion handling
// for a channel all run on that queue, so at most one of them touches the
// session at a time while different channels proceed concurrently.
//
// A message for a channel without a session boots a runtime, starts a thread
// and a first turn, and waits for that turn. A message that arrives while the
// session is running is steered into the active turn; when the agent rejects
// the steer, the message starts a new turn on the same thread which becomes
// the active one. The completion of the active turn tears the session down;
// completions of superseded turns are logged and otherwise ignored.
package coordinator
