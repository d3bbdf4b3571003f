package agentmonitor

import "github.com/N3RDMJ/Agentmonitor/internal/errors"

// Sentinel errors. Test with errors.Is.
var (
	// ErrRequestCanceled reports that the caller's context ended before
	// the tool answered. The request itself may still complete inside
	// the tool.
	ErrRequestCanceled = errors.ErrRequestCanceled

	// ErrSessionClosed reports that the tool process exited while a
	// request was in flight.
	ErrSessionClosed = errors.ErrSessionClosed

	// ErrThreadNotFound reports an operation on a thread id the session
	// has no record of.
	ErrThreadNotFound = errors.ErrThreadNotFound
)

// Typed errors. Test with errors.As.
type (
	// ToolNotFoundError reports that the tool's executable could not be
	// resolved.
	ToolNotFoundError = errors.ToolNotFoundError

	// InstallCheckError reports that the tool's executable exists but
	// failed its installation probe.
	InstallCheckError = errors.InstallCheckError

	// SpawnError reports a failure to start the tool process.
	SpawnError = errors.SpawnError

	// HandshakeTimeoutError reports that the tool never answered the
	// initialize request.
	HandshakeTimeoutError = errors.HandshakeTimeoutError

	// UnsupportedMethodError reports a method the tool's emulation does
	// not provide.
	UnsupportedMethodError = errors.UnsupportedMethodError
)

// IsMonitorError reports whether err originated in this module.
func IsMonitorError(err error) bool {
	return errors.IsMonitorError(err)
}
