package agentmonitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/N3RDMJ/Agentmonitor/internal/adapter"
	"github.com/N3RDMJ/Agentmonitor/internal/launcher"
	"github.com/N3RDMJ/Agentmonitor/internal/protocol"
	"github.com/N3RDMJ/Agentmonitor/internal/session"
	"github.com/N3RDMJ/Agentmonitor/internal/threadstore"
)

// Version is the client version reported during the handshake.
const Version = "0.1.0"

// Tool identifies an external agent CLI.
type Tool = launcher.Tool

// Supported external tools.
const (
	ToolGemini = launcher.ToolGemini
	ToolCursor = launcher.ToolCursor
	ToolClaude = launcher.ToolClaude
)

// Event wraps a protocol message with the workspace it belongs to.
type Event = protocol.Envelope

// EventHandler receives every event not claimed by a background thread
// registration: tool-originated requests and notifications, plus the
// diagnostic events this layer emits (cli/parseError, cli/stderr,
// cli/connected). Called inline from reader loops; must not block.
type EventHandler func(Event)

// WorkspaceEntry identifies one workspace the controlling application
// has opened.
type WorkspaceEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// NewWorkspaceEntry mints a workspace entry with a fresh id.
func NewWorkspaceEntry(name, path string) WorkspaceEntry {
	return WorkspaceEntry{ID: uuid.NewString(), Name: name, Path: path}
}

// WorkspaceSession is one workspace's connection to an external agent
// CLI. The protocol surface is identical for every tool; the variant
// behind it is selected once at Spawn and never inspected again.
type WorkspaceSession struct {
	log       *slog.Logger
	workspace WorkspaceEntry
	tool      Tool

	adapter   adapter.Adapter
	callbacks *protocol.CallbackTable
}

// Spawn starts the given tool for a workspace and performs its
// connection sequence. For tools that speak the session protocol
// natively this spawns a persistent child process and completes the
// bounded-time initialize handshake, then announces cli/connected
// through the handler. For Claude Code it verifies the installation and
// constructs the emulating variant; processes spawn later, per turn.
//
// The handler receives every event not claimed by a background thread
// registration.
func Spawn(
	ctx context.Context,
	workspace WorkspaceEntry,
	tool Tool,
	handler EventHandler,
	opts ...Option,
) (*WorkspaceSession, error) {
	options := applySpawnOptions(opts)
	log := options.Logger

	cfg := launcher.Config{
		Tool:      tool,
		Bin:       options.Bin,
		ExtraArgs: options.ExtraArgs,
		Home:      options.Home,
		Cursor:    options.Cursor,
	}

	ws := &WorkspaceSession{
		log:       log.With("workspace_id", workspace.ID, "tool", string(tool)),
		workspace: workspace,
		tool:      tool,
		callbacks: protocol.NewCallbackTable(),
	}

	sink := protocol.SinkFunc(func(ev protocol.Envelope) {
		handler(ev)
	})

	switch tool {
	case ToolClaude:
		if _, err := launcher.CheckInstallation(ctx, cfg); err != nil {
			return nil, err
		}

		storePath := options.ThreadStorePath
		if storePath == "" {
			storePath = threadstore.DefaultPath(workspace.ID)
		}

		store := threadstore.Load(log, storePath)
		ws.adapter = adapter.NewClaude(
			log, workspace.ID, workspace.Path, cfg, store, sink, ws.callbacks,
		)

	case ToolGemini, ToolCursor:
		cmd, err := launcher.Command(cfg, workspace.Path)
		if err != nil {
			return nil, err
		}

		sess, err := session.Spawn(
			log, workspace.ID, tool.DisplayName(), cmd, sink, ws.callbacks,
		)
		if err != nil {
			return nil, err
		}

		pass, err := adapter.NewPassthrough(
			ctx, log, sess, tool, options.ClientVersion, options.HandshakeTimeout,
		)
		if err != nil {
			return nil, err
		}

		ws.adapter = pass

		handler(Event{
			WorkspaceID: workspace.ID,
			Message: map[string]any{
				"method": protocol.MethodConnected,
				"params": map[string]any{
					"workspaceId": workspace.ID,
					"cliType":     string(tool),
				},
			},
		})

	default:
		return nil, fmt.Errorf("unknown tool %q", tool)
	}

	ws.log.Info("Workspace session ready")

	return ws, nil
}

// Workspace returns the entry this session was spawned for.
func (ws *WorkspaceSession) Workspace() WorkspaceEntry {
	return ws.workspace
}

// Tool returns the external tool this session drives.
func (ws *WorkspaceSession) Tool() Tool {
	return ws.tool
}

// SendRequest issues a correlated request and returns the raw response
// message; inspect its "result" or "error" member.
func (ws *WorkspaceSession) SendRequest(
	ctx context.Context,
	method string,
	params map[string]any,
) (map[string]any, error) {
	return ws.adapter.SendRequest(ctx, method, params)
}

// SendNotification issues a fire-and-forget message.
func (ws *WorkspaceSession) SendNotification(ctx context.Context, method string, params map[string]any) error {
	return ws.adapter.SendNotification(ctx, method, params)
}

// SendResponse answers a request the tool issued through the handler.
// The id is echoed opaquely.
func (ws *WorkspaceSession) SendResponse(ctx context.Context, id any, result any) error {
	return ws.adapter.SendResponse(ctx, id, result)
}

// RegisterBackgroundThread diverts every event carrying threadID to ch
// instead of the session's handler. Registering again for the same
// thread replaces the previous channel. The channel must be buffered or
// actively drained; delivery happens inline from reader loops.
func (ws *WorkspaceSession) RegisterBackgroundThread(threadID string, ch chan<- map[string]any) {
	ws.callbacks.Register(threadID, ch)
}

// UnregisterBackgroundThread restores handler delivery for threadID.
// Safe to call for a thread that was never registered.
func (ws *WorkspaceSession) UnregisterBackgroundThread(threadID string) {
	ws.callbacks.Unregister(threadID)
}

// Kill terminates the session's process tree, if any, and waits for
// exit bounded by ctx. Safe to call multiple times.
func (ws *WorkspaceSession) Kill(ctx context.Context) error {
	return ws.adapter.Kill(ctx)
}
