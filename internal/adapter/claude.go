package adapter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/N3RDMJ/Agentmonitor/internal/errors"
	"github.com/N3RDMJ/Agentmonitor/internal/launcher"
	"github.com/N3RDMJ/Agentmonitor/internal/proctree"
	"github.com/N3RDMJ/Agentmonitor/internal/protocol"
	"github.com/N3RDMJ/Agentmonitor/internal/threadstore"
)

// turnState tracks a turn through its lifecycle. Exactly one of the
// three terminal states is reached per turn.
type turnState int

const (
	turnStarting turnState = iota
	turnStreaming
	turnCompleted
	turnInterrupted
	turnErrored
)

func (s turnState) terminal() bool {
	return s == turnCompleted || s == turnInterrupted || s == turnErrored
}

// activeTurn is the at-most-one running transient process of a
// translating adapter.
type activeTurn struct {
	id       string
	threadID string
	cmd      *exec.Cmd
	state    turnState

	// done is closed by the reader once the process has been reaped.
	done chan struct{}
}

// Claude translates the Claude Code CLI's proprietary stream-json output
// into the canonical protocol. The tool has no persistent bidirectional
// protocol, so each conversational turn spawns a new transient process
// and thread lifecycle is emulated entirely by the thread store.
type Claude struct {
	log         *slog.Logger
	workspaceID string
	cwd         string
	cfg         launcher.Config
	store       *threadstore.Store
	sink        protocol.EventSink
	callbacks   *protocol.CallbackTable

	mu     sync.Mutex
	active *activeTurn
}

// Compile-time verification that Claude implements Adapter.
var _ Adapter = (*Claude)(nil)

// NewClaude constructs the translating adapter for one workspace. The
// thread store has already been loaded (leniently) by the caller.
func NewClaude(
	log *slog.Logger,
	workspaceID string,
	cwd string,
	cfg launcher.Config,
	store *threadstore.Store,
	sink protocol.EventSink,
	callbacks *protocol.CallbackTable,
) *Claude {
	return &Claude{
		log:         log.With("component", "claude_adapter", "workspace_id", workspaceID),
		workspaceID: workspaceID,
		cwd:         cwd,
		cfg:         cfg,
		store:       store,
		sink:        sink,
		callbacks:   callbacks,
	}
}

// SendRequest implements Adapter by emulating the canonical method
// surface. Methods outside it fail with UnsupportedMethodError rather
// than a generic fallback.
func (a *Claude) SendRequest(
	ctx context.Context,
	method string,
	params map[string]any,
) (map[string]any, error) {
	switch method {
	case "initialize":
		return result(map[string]any{
			"serverInfo": map[string]any{
				"name":    "claude-adapter",
				"version": "0.1.0",
			},
			"capabilities": map[string]any{},
		}), nil

	case "thread/start":
		return a.handleThreadStart()

	case "thread/resume":
		return a.handleThreadResume(params)

	case "thread/fork":
		return a.handleThreadFork(params)

	case "thread/list":
		return a.handleThreadList()

	case "thread/archive":
		return a.handleThreadArchive(params)

	case "thread/name/set":
		return a.handleThreadNameSet(params)

	case "thread/compact/start":
		return result(map[string]any{}), nil

	case "turn/start":
		return a.handleTurnStart(ctx, params)

	case "turn/interrupt":
		return a.handleTurnInterrupt(ctx)

	case "model/list":
		return a.handleModelList()

	case "account/read":
		return result(map[string]any{"provider": "claude"}), nil

	case "account/rateLimits/read":
		return result(nil), nil

	case "collaborationMode/list":
		return result(map[string]any{"modes": []any{}}), nil

	case "skills/list":
		return result(map[string]any{"skills": []any{}}), nil

	case "app/list":
		return result(map[string]any{"apps": []any{}}), nil

	case "mcpServerStatus/list":
		return result(map[string]any{"servers": []any{}}), nil

	default:
		return nil, &errors.UnsupportedMethodError{Method: method}
	}
}

// SendNotification implements Adapter. The transient process model has
// no channel to deliver notifications to, so they are accepted and
// dropped.
func (a *Claude) SendNotification(_ context.Context, _ string, _ map[string]any) error {
	return nil
}

// SendResponse implements Adapter. The transient process never issues
// requests, so there is nothing to answer.
func (a *Claude) SendResponse(_ context.Context, _ any, _ any) error {
	return nil
}

// Kill implements Adapter by terminating the active turn's process tree,
// if any.
func (a *Claude) Kill(ctx context.Context) error {
	_, err := a.handleTurnInterrupt(ctx)

	return err
}

func result(v any) map[string]any {
	return map[string]any{"result": v}
}

func (a *Claude) handleThreadStart() (map[string]any, error) {
	threadID, err := a.store.Create()
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	return result(map[string]any{
		"threadId": threadID,
		"thread":   map[string]any{"id": threadID},
	}), nil
}

func (a *Claude) handleThreadResume(params map[string]any) (map[string]any, error) {
	threadID, ok := params["threadId"].(string)
	if !ok || threadID == "" {
		return nil, errors.ErrMissingThreadID
	}

	if !a.store.Contains(threadID) {
		return nil, errors.ErrThreadNotFound
	}

	return result(map[string]any{
		"threadId": threadID,
		"thread":   map[string]any{"id": threadID},
	}), nil
}

func (a *Claude) handleThreadFork(params map[string]any) (map[string]any, error) {
	sourceID, ok := params["threadId"].(string)
	if !ok || sourceID == "" {
		return nil, errors.ErrMissingThreadID
	}

	newID, err := a.store.Fork(sourceID)
	if err != nil {
		return nil, err
	}

	return result(map[string]any{
		"threadId": newID,
		"thread":   map[string]any{"id": newID},
	}), nil
}

func (a *Claude) handleThreadList() (map[string]any, error) {
	infos := a.store.List()
	threads := make([]any, 0, len(infos))

	for _, info := range infos {
		threads = append(threads, map[string]any{
			"id":        info.ID,
			"name":      info.Name,
			"createdAt": info.CreatedAt,
			"updatedAt": info.UpdatedAt,
			"archived":  info.Archived,
		})
	}

	return result(map[string]any{
		"threads": threads,
		"hasMore": false,
	}), nil
}

func (a *Claude) handleThreadArchive(params map[string]any) (map[string]any, error) {
	threadID, ok := params["threadId"].(string)
	if !ok || threadID == "" {
		return nil, errors.ErrMissingThreadID
	}

	if err := a.store.Archive(threadID); err != nil {
		return nil, err
	}

	return result(map[string]any{}), nil
}

func (a *Claude) handleThreadNameSet(params map[string]any) (map[string]any, error) {
	threadID, ok := params["threadId"].(string)
	if !ok || threadID == "" {
		return nil, errors.ErrMissingThreadID
	}

	name, _ := params["name"].(string)

	if err := a.store.SetName(threadID, name); err != nil {
		return nil, err
	}

	return result(map[string]any{}), nil
}

func (a *Claude) handleModelList() (map[string]any, error) {
	standardEfforts := []any{
		map[string]any{"reasoningEffort": "low", "description": "Fast, minimal thinking"},
		map[string]any{"reasoningEffort": "medium", "description": "Balanced speed and depth"},
		map[string]any{"reasoningEffort": "high", "description": "Deep thinking (default)"},
	}
	opusEfforts := append(append([]any{}, standardEfforts...),
		map[string]any{"reasoningEffort": "max", "description": "Maximum depth, no token limit"},
	)

	return result(map[string]any{
		"models": []any{
			map[string]any{
				"id":                        "claude-sonnet-4-20250514",
				"name":                      "Claude Sonnet 4",
				"supportedReasoningEfforts": standardEfforts,
				"defaultReasoningEffort":    "high",
			},
			map[string]any{
				"id":                        "claude-opus-4-20250514",
				"name":                      "Claude Opus 4",
				"supportedReasoningEfforts": opusEfforts,
				"defaultReasoningEffort":    "high",
			},
			map[string]any{
				"id":                        "claude-haiku-4-20250514",
				"name":                      "Claude Haiku 4",
				"supportedReasoningEfforts": standardEfforts,
				"defaultReasoningEffort":    "high",
			},
		},
		"defaultModel": "claude-sonnet-4-20250514",
	}), nil
}

// turnCommand builds the transient process for one turn: print mode with
// stream-json output, a resume directive when the thread already has an
// external session id, and effort mapped to environment variables.
func (a *Claude) turnCommand(sessionID, prompt, effort string) (*exec.Cmd, error) {
	args := make([]string, 0, 10)

	extra, err := launcher.SplitArgs(a.cfg.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("claude args: %w", err)
	}

	args = append(args, extra...)
	args = append(args, "-p", "--output-format", "stream-json", "--verbose")

	if sessionID != "" {
		args = append(args, "--resume", sessionID)
	}

	args = append(args, prompt)

	cmd := exec.Command(a.cfg.Binary(), args...)
	cmd.Dir = a.cwd

	env := launcher.Environ(a.cfg)

	switch effort {
	case "":
	case "max":
		env = append(env,
			"CLAUDE_CODE_EFFORT_LEVEL=high",
			"CLAUDE_CODE_MAX_THINKING_TOKENS=128000",
		)
	default:
		env = append(env, "CLAUDE_CODE_EFFORT_LEVEL="+effort)
	}

	cmd.Env = env

	return cmd, nil
}

// handleTurnStart enforces at most one active turn per adapter: any
// still-running previous turn is killed and awaited before the new
// process spawns.
func (a *Claude) handleTurnStart(ctx context.Context, params map[string]any) (map[string]any, error) {
	threadID, ok := params["threadId"].(string)
	if !ok || threadID == "" {
		return nil, errors.ErrMissingThreadID
	}

	prompt, ok := params["input"].(string)
	if !ok || prompt == "" {
		return nil, errors.ErrMissingInput
	}

	effort, _ := params["effort"].(string)
	turnID := ulid.Make().String()

	sessionID, _ := a.store.ExternalSessionID(threadID)

	if err := a.stopActiveTurn(ctx); err != nil {
		return nil, err
	}

	cmd, err := a.turnCommand(sessionID, prompt, effort)
	if err != nil {
		return nil, err
	}

	proctree.Setup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &errors.SpawnError{Tool: "Claude Code", Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &errors.SpawnError{Tool: "Claude Code", Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &errors.SpawnError{Tool: "Claude Code", Err: err}
	}

	turn := &activeTurn{
		id:       turnID,
		threadID: threadID,
		cmd:      cmd,
		state:    turnStarting,
		done:     make(chan struct{}),
	}

	a.mu.Lock()
	a.active = turn
	a.mu.Unlock()

	a.log.Info("Turn started", "thread_id", threadID, "turn_id", turnID,
		"resumed", sessionID != "", "pid", cmd.Process.Pid)

	go a.readTurn(turn, stdout)
	go drain(stderr)

	return result(map[string]any{
		"turn":     map[string]any{"id": turnID},
		"threadId": threadID,
	}), nil
}

// handleTurnInterrupt kills the active turn's process tree and awaits its
// exit. Interruption is itself a terminal outcome: no further events for
// that turn are delivered.
func (a *Claude) handleTurnInterrupt(ctx context.Context) (map[string]any, error) {
	if err := a.stopActiveTurn(ctx); err != nil {
		return nil, err
	}

	return result(map[string]any{}), nil
}

// stopActiveTurn takes the active turn, marks it interrupted, kills its
// tree, and waits for the reader to reap it.
func (a *Claude) stopActiveTurn(ctx context.Context) error {
	a.mu.Lock()
	turn := a.active
	a.active = nil

	if turn != nil && !turn.state.terminal() {
		turn.state = turnInterrupted
	}
	a.mu.Unlock()

	if turn == nil {
		return nil
	}

	a.log.Debug("Stopping active turn", "turn_id", turn.id)
	proctree.Kill(turn.cmd)

	select {
	case <-turn.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for turn %s to stop: %w", turn.id, ctx.Err())
	}
}

// deliver routes one canonical event: to the background callback for its
// thread if registered, otherwise to the main sink.
func (a *Claude) deliver(threadID string, event map[string]any) {
	if a.callbacks.Dispatch(threadID, event) {
		return
	}

	a.sink.Emit(protocol.Envelope{WorkspaceID: a.workspaceID, Message: event})
}

// transition moves the turn forward, never out of a terminal state.
func (a *Claude) transition(turn *activeTurn, state turnState) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !turn.state.terminal() {
		turn.state = state
	}
}

func (a *Claude) turnState(turn *activeTurn) turnState {
	a.mu.Lock()
	defer a.mu.Unlock()

	return turn.state
}

// readTurn consumes the transient process's output until end-of-stream.
// Every line is scanned for the tool's initialization record (session-id
// capture, persisted immediately, best-effort) and translated into
// canonical events. If the stream ends without an explicit terminal
// record and the turn was not interrupted, a terminal turn/completed is
// synthesized so every turn yields exactly one terminal event.
func (a *Claude) readTurn(turn *activeTurn, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, maxTurnLineSize), maxTurnLineSize)

	gotTerminal := false

	for scanner.Scan() {
		line := scanner.Text()

		if sid, ok := ExtractSessionID(line); ok {
			if err := a.store.SetExternalSessionID(turn.threadID, sid); err != nil {
				// Best-effort from the reader: log, never crash the loop.
				a.log.Warn("Failed to persist resumable session id",
					"thread_id", turn.threadID, "error", err)
			} else {
				a.log.Debug("Captured resumable session id", "thread_id", turn.threadID)
			}
		}

		event, ok := TranslateLine(line, turn.threadID, turn.id)
		if !ok {
			continue
		}

		a.transition(turn, turnStreaming)

		if method, _ := event["method"].(string); method == "turn/completed" {
			gotTerminal = true

			a.transition(turn, turnCompleted)
		}

		a.deliver(turn.threadID, event)
	}

	if !gotTerminal && a.turnState(turn) != turnInterrupted {
		a.transition(turn, turnCompleted)
		a.deliver(turn.threadID, terminalEvent(turn.threadID, turn.id))
	}

	a.mu.Lock()

	if a.active == turn {
		a.active = nil
	}
	a.mu.Unlock()

	_ = turn.cmd.Wait()
	close(turn.done)

	a.log.Debug("Turn finished", "turn_id", turn.id)
}

// maxTurnLineSize bounds one line of transient process output.
const maxTurnLineSize = 1024 * 1024 // 1MB

func drain(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
	}
}
