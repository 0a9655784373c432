// Package client implements the runtime adapter over one codex app-server
// process.
//
// A Client owns a transport, a protocol controller and the isolated home of
// one session. It exposes the domain operations the coordinator needs
// (initialize, start a thread, start or steer a turn, close) and hides the
// protocol's method names and notification shapes. Clients are single-use:
// after Close, create a new one.
package client
