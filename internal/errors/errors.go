package errors

import (
	"errors"
	"fmt"
	"time"
)

// MonitorError is the base interface for all errors produced by this module.
type MonitorError interface {
	error
	IsMonitorError() bool
}

// Compile-time verification that all error types implement MonitorError.
var (
	_ MonitorError = (*ToolNotFoundError)(nil)
	_ MonitorError = (*InstallCheckError)(nil)
	_ MonitorError = (*SpawnError)(nil)
	_ MonitorError = (*HandshakeTimeoutError)(nil)
	_ MonitorError = (*UnsupportedMethodError)(nil)
)

// IsMonitorError reports whether err, or anything it wraps, was produced
// by this module. Both the typed errors and the sentinels count.
func IsMonitorError(err error) bool {
	var me MonitorError
	if errors.As(err, &me) {
		return true
	}

	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}

// Sentinel errors for commonly checked conditions.
var (
	// ErrRequestCanceled indicates the caller abandoned a pending request
	// before a response arrived. Distinct from a protocol error response.
	ErrRequestCanceled = errors.New("request canceled")

	// ErrSessionClosed indicates the session's process has exited and no
	// further requests can be correlated.
	ErrSessionClosed = errors.New("session closed")

	// ErrStdinClosed indicates the process input stream was closed.
	ErrStdinClosed = errors.New("stdin closed")

	// ErrThreadNotFound indicates the requested thread id is not in the store.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrMissingThreadID indicates a request omitted the required threadId param.
	ErrMissingThreadID = errors.New("missing threadId")

	// ErrMissingInput indicates a turn/start request omitted the input param.
	ErrMissingInput = errors.New("missing input")
)

var sentinels = []error{
	ErrRequestCanceled,
	ErrSessionClosed,
	ErrStdinClosed,
	ErrThreadNotFound,
	ErrMissingThreadID,
	ErrMissingInput,
}

// ToolNotFoundError indicates the external CLI binary was not found.
type ToolNotFoundError struct {
	Tool   string
	Binary string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("%s CLI not found. Install it and ensure `%s` is on your PATH", e.Tool, e.Binary)
}

// IsMonitorError implements MonitorError.
func (e *ToolNotFoundError) IsMonitorError() bool { return true }

// InstallCheckError indicates the CLI installation check failed or timed out.
type InstallCheckError struct {
	Tool   string
	Binary string
	Detail string
}

func (e *InstallCheckError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s CLI failed to start. Try running `%s --version` in a terminal", e.Tool, e.Binary)
	}

	return fmt.Sprintf("%s CLI failed to start: %s. Try running `%s --version` in a terminal",
		e.Tool, e.Detail, e.Binary)
}

// IsMonitorError implements MonitorError.
func (e *InstallCheckError) IsMonitorError() bool { return true }

// SpawnError indicates the external CLI process could not be started or
// its standard streams could not be wired.
type SpawnError struct {
	Tool string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s CLI: %v", e.Tool, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsMonitorError implements MonitorError.
func (e *SpawnError) IsMonitorError() bool { return true }

// HandshakeTimeoutError indicates the external tool did not answer the
// initialize request in time. The process tree has been killed.
type HandshakeTimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf(
		"%s CLI did not respond to initialize within %s. Check that the CLI runs in a terminal",
		e.Tool, e.Timeout,
	)
}

// IsMonitorError implements MonitorError.
func (e *HandshakeTimeoutError) IsMonitorError() bool { return true }

// UnsupportedMethodError indicates a translating adapter received a method
// it does not emulate.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("unsupported method: %s", e.Method)
}

// IsMonitorError implements MonitorError.
func (e *UnsupportedMethodError) IsMonitorError() bool { return true }
