// Package message normalizes notifications emitted by the agent process.
//
// The agent is not consistent about key spelling: the same logical field may
// arrive as "threadId" or "thread_id", and method segments may be camelCase
// or snake_case. Everything in this package accepts both spellings and hands
// back typed events, so consumers never look at raw key names.
package message
