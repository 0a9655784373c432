// Package mcp serves the relay's Model Context Protocol tool server.
//
// The agent reaches the server over streamable HTTP. Each channel gets its
// own endpoint, selected by the channel query parameter, so tools always act
// on the channel whose session registered the URL in its config.toml.
package mcp
