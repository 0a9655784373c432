// Package turn aggregates agent notifications into the result of one turn.
//
// A Tracker is created per turn attempt. It accepts notifications for its
// thread and turn, accumulates streamed text, tool calls, token usage and
// errors, and becomes immutable once the turn reaches a terminal status.
// Trackers for overlapping turns on the same thread stay isolated because
// every event is checked against the tracker's identity.
package turn
