package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/wagiedev/codex-relay/internal/message"
)

// JSON-RPC error codes used in replies to the agent.
const (
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// outboundRequest is a request line written by the relay.
//
// Wire format:
//
//	{"id": 3, "method": "turn/start", "params": {...}}
type outboundRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// outboundNotification is a notification line written by the relay.
type outboundNotification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// reply answers an inbound request. ID echoes the request id verbatim.
type reply struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// envelope is any line read from the agent. Which fields are present decides
// whether it is a response, an inbound request or a notification.
type envelope struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

func (e *envelope) hasID() bool {
	return len(e.ID) > 0 && !bytes.Equal(e.ID, []byte("null"))
}

// Notification is a method call from the agent that expects no reply.
type Notification struct {
	// Method is the method as sent by the agent.
	Method string

	// Params holds the decoded params, numbers as json.Number.
	Params map[string]any
}

// Normalized returns the method with snake_case segments rewritten to camelCase.
func (n Notification) Normalized() string {
	return message.NormalizeMethod(n.Method)
}

// Request is an inbound request from the agent.
type Request struct {
	ID     json.RawMessage
	Method string
	Params map[string]any
}

// RequestHandler answers an inbound request. The returned value becomes the
// reply's result; an error becomes the reply's error object, with the code
// taken from an *errors.RPCError when present.
type RequestHandler func(ctx context.Context, req *Request) (any, error)

// idKey returns the canonical correlation key of a decoded id. Integral
// numbers and numeric strings map to the same key, so 7, 7.0 and "7.0" all
// match request 7. A number with a fractional part matches nothing.
func idKey(v any) (string, bool) {
	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		if key, ok := numericKey(strings.TrimSpace(id)); ok {
			return key, true
		}

		return "s:" + id, true
	case json.Number:
		return numericKey(id.String())
	case float64:
		return floatKey(id)
	default:
		if n, ok := message.ToInt64(id); ok {
			return strconv.FormatInt(n, 10), true
		}
	}

	return "", false
}

func numericKey(s string) (string, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10), true
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", false
	}

	return floatKey(f)
}

func floatKey(f float64) (string, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return "", false
	}

	return strconv.FormatInt(int64(f), 10), true
}

// rawIDKey decodes a raw id and returns its correlation key.
func rawIDKey(raw json.RawMessage) (string, bool) {
	var v any

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if err := dec.Decode(&v); err != nil {
		return "", false
	}

	return idKey(v)
}

// decodeParams decodes params into a map, preserving numbers as json.Number.
// Absent or non-object params yield an empty map.
func decodeParams(raw json.RawMessage) map[string]any {
	params := map[string]any{}

	if len(raw) == 0 {
		return params
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var decoded map[string]any
	if err := dec.Decode(&decoded); err != nil || decoded == nil {
		return params
	}

	return decoded
}
