package protocol

// Envelope wraps a canonical protocol message with the workspace it
// belongs to, for delivery to the controlling application.
type Envelope struct {
	WorkspaceID string         `json:"workspaceId"`
	Message     map[string]any `json:"message"`
}

// EventSink receives canonical event envelopes for delivery upward.
// Implementations must not block for long; the session reader loops
// call Emit inline.
type EventSink interface {
	Emit(event Envelope)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(event Envelope)

// Emit implements EventSink.
func (f SinkFunc) Emit(event Envelope) { f(event) }

// Diagnostic method names emitted solely by this layer.
const (
	// MethodParseError reports an unparseable output line: {error, raw}.
	MethodParseError = "cli/parseError"

	// MethodStderr forwards one line of the process error stream: {message}.
	MethodStderr = "cli/stderr"

	// MethodConnected announces a completed handshake: {workspaceId, cliType}.
	MethodConnected = "cli/connected"
)

// ParseErrorEvent builds the diagnostic message for an unparseable line.
func ParseErrorEvent(parseErr error, raw string) map[string]any {
	return map[string]any{
		"method": MethodParseError,
		"params": map[string]any{"error": parseErr.Error(), "raw": raw},
	}
}

// StderrEvent builds the diagnostic message for one stderr line.
func StderrEvent(line string) map[string]any {
	return map[string]any{
		"method": MethodStderr,
		"params": map[string]any{"message": line},
	}
}
