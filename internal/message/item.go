package message

import (
	"fmt"
	"strings"
)

// ItemKind is the normalized item type.
type ItemKind string

const (
	KindAgentMessage        ItemKind = "agentMessage"
	KindUserMessage         ItemKind = "userMessage"
	KindReasoning           ItemKind = "reasoning"
	KindCommandExecution    ItemKind = "commandExecution"
	KindFileChange          ItemKind = "fileChange"
	KindMcpToolCall         ItemKind = "mcpToolCall"
	KindWebSearch           ItemKind = "webSearch"
	KindDynamicToolCall     ItemKind = "dynamicToolCall"
	KindCollabAgentToolCall ItemKind = "collabAgentToolCall"
	KindImageView           ItemKind = "imageView"
)

var toolCallKinds = map[ItemKind]bool{
	KindCommandExecution:    true,
	KindFileChange:          true,
	KindMcpToolCall:         true,
	KindWebSearch:           true,
	KindDynamicToolCall:     true,
	KindCollabAgentToolCall: true,
	KindImageView:           true,
}

// Item is a normalized thread item.
type Item struct {
	ID   string
	Kind ItemKind
	Raw  map[string]any
}

// ParseItem normalizes a raw item object.
func ParseItem(raw map[string]any) Item {
	return Item{
		ID:   String(raw, "id"),
		Kind: ItemKind(toCamel(String(raw, "type"))),
		Raw:  raw,
	}
}

// IsToolCall reports whether the item records a tool invocation.
func (i Item) IsToolCall() bool {
	return toolCallKinds[i.Kind]
}

// IsAgentMessage reports whether the item is assistant output.
func (i Item) IsAgentMessage() bool {
	return i.Kind == KindAgentMessage
}

// Text returns the text of a message item.
func (i Item) Text() string {
	return String(i.Raw, "text")
}

// Status returns the item status, e.g. "inProgress", "completed", "failed".
func (i Item) Status() string {
	return toCamel(String(i.Raw, "status"))
}

// ToolName returns a short human-readable name for a tool-call item.
func (i Item) ToolName() string {
	switch i.Kind {
	case KindCommandExecution:
		return "shell"
	case KindFileChange:
		return "apply_patch"
	case KindMcpToolCall:
		server := String(i.Raw, "server")
		tool := String(i.Raw, "tool")

		if server == "" {
			return tool
		}

		return server + "." + tool
	case KindWebSearch:
		return "web_search"
	case KindImageView:
		return "view_image"
	default:
		if tool := String(i.Raw, "tool"); tool != "" {
			return tool
		}

		return string(i.Kind)
	}
}

// ToolInput returns a one-line summary of what the tool was asked to do.
func (i Item) ToolInput() string {
	switch i.Kind {
	case KindCommandExecution:
		if cmd := String(i.Raw, "command"); cmd != "" {
			return cmd
		}

		parts := Slice(i.Raw, "command")
		words := make([]string, 0, len(parts))

		for _, p := range parts {
			if s, ok := p.(string); ok {
				words = append(words, s)
			}
		}

		return strings.Join(words, " ")
	case KindFileChange:
		changes := Slice(i.Raw, "changes")
		paths := make([]string, 0, len(changes))

		for _, c := range changes {
			if m, ok := c.(map[string]any); ok {
				paths = append(paths, String(m, "path"))
			}
		}

		return strings.Join(paths, ", ")
	case KindWebSearch:
		return String(i.Raw, "query")
	case KindImageView:
		return String(i.Raw, "path")
	default:
		if args, ok := Field(i.Raw, "arguments"); ok {
			return fmt.Sprint(args)
		}

		return ""
	}
}

// ToolOutput returns the textual result of a tool-call item, if any.
func (i Item) ToolOutput() string {
	if out := String(i.Raw, "aggregatedOutput"); out != "" {
		return out
	}

	if errObj := Map(i.Raw, "error"); errObj != nil {
		return String(errObj, "message")
	}

	result := Map(i.Raw, "result")
	if result == nil {
		return ""
	}

	var parts []string

	for _, c := range Slice(result, "content") {
		if m, ok := c.(map[string]any); ok {
			if text := String(m, "text"); text != "" {
				parts = append(parts, text)
			}
		}
	}

	return strings.Join(parts, "\n")
}
