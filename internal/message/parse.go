package message

import (
	"log/slog"
	"strings"

	"github.com/wagiedev/codex-relay/internal/errors"
)

// Parse converts a raw notification into a typed Event.
//
// Returns errors.ErrUnknownNotification for methods the relay does not
// consume; callers should skip those.
func Parse(log *slog.Logger, method string, params map[string]any) (Event, error) {
	normalized := NormalizeMethod(method)
	threadID, turnID := scope(params)

	switch normalized {
	case MethodAgentMessageDelta:
		return &AgentMessageDelta{
			ThreadID: threadID,
			TurnID:   turnID,
			ItemID:   String(params, "itemId"),
			Delta:    String(params, "delta", "text"),
		}, nil

	case MethodItemStarted:
		return &ItemStarted{
			ThreadID: threadID,
			TurnID:   turnID,
			Item:     ParseItem(Map(params, "item")),
		}, nil

	case MethodItemCompleted:
		return &ItemCompleted{
			ThreadID: threadID,
			TurnID:   turnID,
			Item:     ParseItem(Map(params, "item")),
		}, nil

	case MethodTokenUsageUpdated:
		return &TokenUsageUpdated{
			ThreadID: threadID,
			TurnID:   turnID,
			Usage:    ParseTokenUsage(Map(params, "tokenUsage", "usage", "info")),
		}, nil

	case MethodError:
		return &ErrorEvent{
			ThreadID:  threadID,
			TurnID:    turnID,
			Message:   errorMessage(params),
			WillRetry: Bool(params, "willRetry"),
		}, nil

	case MethodTurnCompleted:
		turn := Map(params, "turn")

		status := String(turn, "status")
		if status == "" {
			status = String(params, "status")
		}

		msg := errorMessage(turn)
		if msg == "" {
			msg = errorMessage(params)
		}

		return &TurnCompleted{
			ThreadID:     threadID,
			TurnID:       turnID,
			Status:       toCamel(status),
			ErrorMessage: msg,
		}, nil

	default:
		log.Debug("Skipping unconsumed notification", "method", method)

		return nil, errors.ErrUnknownNotification
	}
}

// scope extracts the thread and turn ids an event was tagged with.
func scope(params map[string]any) (string, string) {
	threadID := String(params, "threadId", "conversationId")
	turnID := String(params, "turnId")

	if turn := Map(params, "turn"); turn != nil {
		if turnID == "" {
			turnID = String(turn, "id")
		}

		if threadID == "" {
			threadID = String(turn, "threadId")
		}
	}

	if item := Map(params, "item"); item != nil && turnID == "" {
		turnID = String(item, "turnId")
	}

	return threadID, turnID
}

// errorMessage reads an error that may be a string or an object with a message.
func errorMessage(m map[string]any) string {
	v, ok := Field(m, "error")
	if !ok {
		return strings.TrimSpace(String(m, "message"))
	}

	switch e := v.(type) {
	case string:
		return strings.TrimSpace(e)
	case map[string]any:
		msg := strings.TrimSpace(String(e, "message"))
		if details := strings.TrimSpace(String(e, "additionalDetails")); details != "" && msg != "" {
			return msg + ": " + details
		}

		return msg
	default:
		return ""
	}
}

// ParseTokenUsage reads a token-usage object. A flat breakdown without
// total/last buckets is treated as the total.
func ParseTokenUsage(m map[string]any) TokenUsage {
	var usage TokenUsage

	total := Map(m, "total", "totalTokenUsage")
	last := Map(m, "last", "lastTokenUsage")

	if total == nil && last == nil {
		usage.Total = parseBreakdown(m)
	} else {
		usage.Total = parseBreakdown(total)
		usage.Last = parseBreakdown(last)
	}

	if window, ok := Int64(m, "modelContextWindow"); ok {
		usage.ModelContextWindow = &window
	}

	return usage
}

func parseBreakdown(m map[string]any) TokenBreakdown {
	get := func(name string) int64 {
		v, _ := Int64(m, name)

		return v
	}

	b := TokenBreakdown{
		InputTokens:           get("inputTokens"),
		CachedInputTokens:     get("cachedInputTokens"),
		OutputTokens:          get("outputTokens"),
		ReasoningOutputTokens: get("reasoningOutputTokens"),
		TotalTokens:           get("totalTokens"),
	}

	if b.TotalTokens == 0 {
		b.TotalTokens = b.InputTokens + b.OutputTokens
	}

	return b
}
