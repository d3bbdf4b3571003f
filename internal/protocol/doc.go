// Package protocol defines the canonical line-framed JSON protocol spoken
// between this layer and external agent CLIs, and the routing primitives
// built on it.
//
// Wire framing is one JSON value per line, UTF-8. Three shapes exist:
//
//	Request:      {"id": 1, "method": "turn/start", "params": {...}}
//	Notification: {"method": "initialized"}
//	Response:     {"id": 1, "result": {...}} or {"id": 1, "error": {...}}
//
// Classify routes inbound messages: responses resolve pending requests,
// requests and notifications become canonical events unless a background
// callback claims their thread id, and a bare id is treated as an
// acknowledgment for its pending request.
package protocol
