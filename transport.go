package relay

import "github.com/wagiedev/codex-relay/internal/config"

// Transport defines the interface for line-oriented communication with the
// agent. Implement this to provide custom transports for testing, mocking,
// or alternative ways of reaching an agent (e.g., remote connections).
//
// The default implementation spawns the agent as a subprocess.
// Custom transports are created per session by WithTransportFactory.
type Transport = config.Transport

// Exit describes how the agent process ended.
type Exit = config.Exit

// TransportFactory creates the transport of one session.
type TransportFactory func(channelID string) Transport
