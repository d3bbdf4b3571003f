package agentmonitor

import (
	"log/slog"
	"time"

	"github.com/N3RDMJ/Agentmonitor/internal/launcher"
)

// CursorSettings configures the Cursor CLI flags applied at spawn.
type CursorSettings = launcher.CursorSettings

// DefaultCursorSettings returns the settings new workspaces start with.
func DefaultCursorSettings() CursorSettings {
	return launcher.DefaultCursorSettings()
}

// spawnOptions collects everything Spawn can be configured with.
type spawnOptions struct {
	Logger           *slog.Logger
	Bin              string
	ExtraArgs        string
	Home             string
	Cursor           CursorSettings
	HandshakeTimeout time.Duration
	ClientVersion    string
	ThreadStorePath  string
}

// Option configures Spawn using the functional options pattern.
type Option func(*spawnOptions)

func applySpawnOptions(opts []Option) *spawnOptions {
	options := &spawnOptions{
		Cursor:        DefaultCursorSettings(),
		ClientVersion: Version,
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = NopLogger()
	}

	return options
}

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *spawnOptions) {
		o.Logger = logger
	}
}

// WithBinary overrides the tool's executable. The override's directory
// is also appended to the spawned process's PATH.
func WithBinary(bin string) Option {
	return func(o *spawnOptions) {
		o.Bin = bin
	}
}

// WithExtraArgs appends a shell-style argument string to the tool's
// command line.
func WithExtraArgs(args string) Option {
	return func(o *spawnOptions) {
		o.ExtraArgs = args
	}
}

// WithHome sets the tool's home directory environment variable
// (GEMINI_HOME, CLAUDE_HOME) for the spawned process.
func WithHome(home string) Option {
	return func(o *spawnOptions) {
		o.Home = home
	}
}

// WithCursorSettings replaces the Cursor CLI flag settings. Ignored for
// other tools.
func WithCursorSettings(settings CursorSettings) Option {
	return func(o *spawnOptions) {
		o.Cursor = settings
	}
}

// WithHandshakeTimeout bounds the initialize handshake for tools that
// speak the session protocol natively. Zero or negative selects the
// default.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(o *spawnOptions) {
		o.HandshakeTimeout = timeout
	}
}

// WithClientVersion overrides the version string reported to the tool
// during the handshake.
func WithClientVersion(version string) Option {
	return func(o *spawnOptions) {
		o.ClientVersion = version
	}
}

// WithThreadStorePath overrides where emulated-session thread metadata
// is persisted. Only used for tools without native sessions.
func WithThreadStorePath(path string) Option {
	return func(o *spawnOptions) {
		o.ThreadStorePath = path
	}
}
