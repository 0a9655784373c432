package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/codex-relay/internal/prompt"
)

const (
	// ServerName is the implementation name reported to MCP clients.
	ServerName = "codex-relay"

	// Path is where the streamable HTTP handler is mounted.
	Path = "/mcp"

	// ChannelParam selects the channel a connection acts on.
	ChannelParam = "channel"

	// DefaultRecentLimit is used when list_recent_messages gets no limit.
	DefaultRecentLimit = 20

	// MaxRecentLimit caps list_recent_messages.
	MaxRecentLimit = 100

	shutdownTimeout = 5 * time.Second
)

// Platform is the messaging side the tools act on.
type Platform interface {
	SendMessage(ctx context.Context, channelID, text string) error
	RecentMessages(channelID string, limit int) []prompt.Message
}

// SendMessageInput is the input of the send_message tool.
type SendMessageInput struct {
	Text string `json:"text" jsonschema:"the message to post in the channel"`
}

// ListRecentMessagesInput is the input of the list_recent_messages tool.
type ListRecentMessagesInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of messages to return, oldest first"`
}

// Server exposes platform actions to the agent.
type Server struct {
	log      *slog.Logger
	platform Platform
	version  string

	sendSchema *jsonschema.Schema
	listSchema *jsonschema.Schema

	mu      sync.Mutex
	servers map[string]*mcp.Server
}

// NewServer creates a tool server acting on platform.
func NewServer(log *slog.Logger, platform Platform, version string) (*Server, error) {
	sendSchema, err := jsonschema.For[SendMessageInput](nil)
	if err != nil {
		return nil, fmt.Errorf("send_message schema: %w", err)
	}

	listSchema, err := jsonschema.For[ListRecentMessagesInput](nil)
	if err != nil {
		return nil, fmt.Errorf("list_recent_messages schema: %w", err)
	}

	return &Server{
		log:        log.With("component", "mcp"),
		platform:   platform,
		version:    version,
		sendSchema: sendSchema,
		listSchema: listSchema,
		servers:    make(map[string]*mcp.Server, 8),
	}, nil
}

// Handler returns the streamable HTTP handler. Requests without a channel
// parameter are rejected.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, mcp.NewStreamableHTTPHandler(s.serverFor, nil))

	return mux
}

// ListenAndServe serves the tool server on addr until ctx is done.
// ready, when non-nil, receives the bound address once listening.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ready != nil {
		ready(ln.Addr())
	}

	s.log.Info("Tool server listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)

	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return fmt.Errorf("serve tool server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Streaming connections may outlive the grace period.
		s.log.Warn("Tool server did not shut down cleanly", "error", err)

		_ = srv.Close()
	}

	return nil
}

// URL returns the endpoint the agent of channelID connects to.
func URL(base, channelID string) string {
	base = strings.TrimRight(base, "/")

	return base + Path + "?" + url.Values{ChannelParam: {channelID}}.Encode()
}

// EndpointBase turns a listen address into an http base URL. Unspecified
// hosts become the loopback address.
func EndpointBase(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}

	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}

	return "http://" + net.JoinHostPort(host, port)
}

func (s *Server) serverFor(r *http.Request) *mcp.Server {
	channelID := r.URL.Query().Get(ChannelParam)
	if channelID == "" {
		s.log.Warn("Tool server request without channel", "remote", r.RemoteAddr)

		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if srv, ok := s.servers[channelID]; ok {
		return srv
	}

	srv := s.newChannelServer(channelID)
	s.servers[channelID] = srv

	return srv
}

func (s *Server) newChannelServer(channelID string) *mcp.Server {
	log := s.log.With("channel", channelID)

	srv := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: s.version}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "send_message",
		Description: "Post a message to the chat channel you are serving.",
		InputSchema: s.sendSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in SendMessageInput) (*mcp.CallToolResult, any, error) {
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return ErrorResult("text must not be empty"), nil, nil
		}

		if err := s.platform.SendMessage(ctx, channelID, text); err != nil {
			log.Warn("send_message failed", "error", err)

			return ErrorResult("send failed: " + err.Error()), nil, nil
		}

		log.Debug("send_message delivered", "chars", len(text))

		return TextResult("sent"), nil, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_recent_messages",
		Description: "List the most recent messages received in the chat channel.",
		InputSchema: s.listSchema,
	}, func(_ context.Context, _ *mcp.CallToolRequest, in ListRecentMessagesInput) (*mcp.CallToolResult, any, error) {
		limit := in.Limit
		if limit <= 0 {
			limit = DefaultRecentLimit
		}

		limit = min(limit, MaxRecentLimit)

		messages := s.platform.RecentMessages(channelID, limit)
		if len(messages) == 0 {
			return TextResult("no messages yet"), nil, nil
		}

		return TextResult(FormatMessages(messages)), nil, nil
	})

	return srv
}

// FormatMessages renders messages one per line.
func FormatMessages(messages []prompt.Message) string {
	var b strings.Builder

	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}

		if !m.ReceivedAt.IsZero() {
			b.WriteString("[" + m.ReceivedAt.UTC().Format(time.RFC3339) + "] ")
		}

		author := m.Author
		if author == "" {
			author = "unknown"
		}

		b.WriteString(author + ": " + m.Text)
	}

	return b.String()
}

// TextResult creates a CallToolResult with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// ErrorResult creates a CallToolResult indicating an error.
func ErrorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}
}
