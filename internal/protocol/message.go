package protocol

import "encoding/json"

// Request is the outbound wire shape for a correlated request.
//
// Wire format: {"id": 3, "method": "thread/start", "params": {...}}
type Request struct {
	ID     uint64         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// Notification is the outbound wire shape for a fire-and-forget message.
// Params is omitted entirely when nil.
type Notification struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Response is the outbound wire shape for answering a process-originated
// request. The id echoes whatever the process sent, so it stays opaque.
type Response struct {
	ID     any `json:"id"`
	Result any `json:"result"`
}

// Kind classifies an inbound message for routing.
type Kind int

const (
	// KindResponse carries an id plus result or error: resolves a pending request.
	KindResponse Kind = iota

	// KindRequest carries an id plus method: a process-originated request.
	KindRequest

	// KindNotification carries a method with no id.
	KindNotification

	// KindAck carries an id with neither method nor result/error.
	// Treated as an acknowledgment for the pending request, if any.
	KindAck

	// KindUnknown matches nothing above and is dropped.
	KindUnknown
)

// Classify determines how an inbound message should be routed.
func Classify(msg map[string]any) Kind {
	_, hasID := MessageID(msg)
	_, hasMethod := msg["method"]
	_, hasResult := msg["result"]
	_, hasError := msg["error"]

	switch {
	case hasID && (hasResult || hasError):
		return KindResponse
	case hasID && hasMethod:
		return KindRequest
	case hasMethod:
		return KindNotification
	case hasID:
		return KindAck
	default:
		return KindUnknown
	}
}

// MessageID extracts a numeric id from an inbound message.
// JSON numbers decode as float64; json.Number is accepted for callers
// that decode with UseNumber.
func MessageID(msg map[string]any) (uint64, bool) {
	switch id := msg["id"].(type) {
	case float64:
		if id < 0 || id != float64(uint64(id)) {
			return 0, false
		}

		return uint64(id), true
	case json.Number:
		n, err := id.Int64()
		if err != nil || n < 0 {
			return 0, false
		}

		return uint64(n), true
	default:
		return 0, false
	}
}

// ExtractThreadID pulls a thread identifier out of a message's params.
// External formats vary, so it accepts params.threadId, params.thread_id,
// and params.thread.id.
func ExtractThreadID(msg map[string]any) (string, bool) {
	params, ok := msg["params"].(map[string]any)
	if !ok {
		return "", false
	}

	if id, ok := params["threadId"].(string); ok {
		return id, true
	}

	if id, ok := params["thread_id"].(string); ok {
		return id, true
	}

	if thread, ok := params["thread"].(map[string]any); ok {
		if id, ok := thread["id"].(string); ok {
			return id, true
		}
	}

	return "", false
}
