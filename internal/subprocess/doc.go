// Package subprocess provides the process transport for the codex app-server.
//
// Process spawns the agent, writes newline-delimited JSON to its stdin and
// delivers each stdout line to registered handlers. Stderr is forwarded to an
// optional callback and its tail is kept for error reporting.
package subprocess
