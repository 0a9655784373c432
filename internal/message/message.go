package message

// Notification methods consumed by the turn tracker, in their normalized form.
const (
	MethodAgentMessageDelta = "item/agentMessage/delta"
	MethodItemStarted       = "item/started"
	MethodItemCompleted     = "item/completed"
	MethodTokenUsageUpdated = "thread/tokenUsage/updated"
	MethodError             = "error"
	MethodTurnCompleted     = "turn/completed"
)

// Event is a normalized notification from the agent.
// Use a type switch to determine the concrete type.
type Event interface {
	// Method returns the normalized notification method.
	Method() string

	// Scope returns the thread and turn ids the event carries, either of
	// which may be empty when the agent did not send it.
	Scope() (threadID, turnID string)
}

// Compile-time verification that all event types implement Event.
var (
	_ Event = (*AgentMessageDelta)(nil)
	_ Event = (*ItemStarted)(nil)
	_ Event = (*ItemCompleted)(nil)
	_ Event = (*TokenUsageUpdated)(nil)
	_ Event = (*ErrorEvent)(nil)
	_ Event = (*TurnCompleted)(nil)
)

// AgentMessageDelta is a streamed fragment of assistant text.
type AgentMessageDelta struct {
	ThreadID string
	TurnID   string
	ItemID   string
	Delta    string
}

// Method implements Event.
func (*AgentMessageDelta) Method() string { return MethodAgentMessageDelta }

// Scope implements Event.
func (e *AgentMessageDelta) Scope() (string, string) { return e.ThreadID, e.TurnID }

// ItemStarted announces a new item within a turn.
type ItemStarted struct {
	ThreadID string
	TurnID   string
	Item     Item
}

// Method implements Event.
func (*ItemStarted) Method() string { return MethodItemStarted }

// Scope implements Event.
func (e *ItemStarted) Scope() (string, string) { return e.ThreadID, e.TurnID }

// ItemCompleted carries the final state of an item.
type ItemCompleted struct {
	ThreadID string
	TurnID   string
	Item     Item
}

// Method implements Event.
func (*ItemCompleted) Method() string { return MethodItemCompleted }

// Scope implements Event.
func (e *ItemCompleted) Scope() (string, string) { return e.ThreadID, e.TurnID }

// TokenUsageUpdated replaces the token-usage snapshot of a turn.
type TokenUsageUpdated struct {
	ThreadID string
	TurnID   string
	Usage    TokenUsage
}

// Method implements Event.
func (*TokenUsageUpdated) Method() string { return MethodTokenUsageUpdated }

// Scope implements Event.
func (e *TokenUsageUpdated) Scope() (string, string) { return e.ThreadID, e.TurnID }

// ErrorEvent reports an error raised by the agent during a turn.
type ErrorEvent struct {
	ThreadID  string
	TurnID    string
	Message   string
	WillRetry bool
}

// Method implements Event.
func (*ErrorEvent) Method() string { return MethodError }

// Scope implements Event.
func (e *ErrorEvent) Scope() (string, string) { return e.ThreadID, e.TurnID }

// TurnCompleted is the terminal notification of a turn.
type TurnCompleted struct {
	ThreadID     string
	TurnID       string
	Status       string
	ErrorMessage string
}

// Method implements Event.
func (*TurnCompleted) Method() string { return MethodTurnCompleted }

// Scope implements Event.
func (e *TurnCompleted) Scope() (string, string) { return e.ThreadID, e.TurnID }

// TokenBreakdown is one token accounting bucket.
type TokenBreakdown struct {
	InputTokens           int64 `json:"inputTokens"`
	CachedInputTokens     int64 `json:"cachedInputTokens"`
	OutputTokens          int64 `json:"outputTokens"`
	ReasoningOutputTokens int64 `json:"reasoningOutputTokens"`
	TotalTokens           int64 `json:"totalTokens"`
}

// TokenUsage is a token-usage snapshot for a thread.
type TokenUsage struct {
	Total              TokenBreakdown `json:"total"`
	Last               TokenBreakdown `json:"last"`
	ModelContextWindow *int64         `json:"modelContextWindow,omitempty"`
}
