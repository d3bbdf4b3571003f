// Package adapter bridges one external agent CLI's protocol to the
// canonical one.
//
// Two variants implement the same capability set. The pass-through
// variant wraps a Session whose process speaks the canonical protocol
// natively. The translating variant emulates the canonical protocol for
// tools that only offer a proprietary streaming output, spawning one
// transient process per conversational turn.
//
// The variant is selected once at session creation; nothing branches on
// tool identity afterwards.
package adapter

import "context"

// Adapter is the capability set every variant provides.
type Adapter interface {
	// SendRequest issues a correlated canonical request and returns the
	// raw response message (inspect its "result" or "error" member).
	SendRequest(ctx context.Context, method string, params map[string]any) (map[string]any, error)

	// SendNotification issues a fire-and-forget canonical message.
	SendNotification(ctx context.Context, method string, params map[string]any) error

	// SendResponse answers a request that the external process issued.
	SendResponse(ctx context.Context, id any, result any) error

	// Kill terminates the adapter's process tree and waits for exit.
	Kill(ctx context.Context) error
}
