package adapter

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/N3RDMJ/Agentmonitor/internal/errors"
	"github.com/N3RDMJ/Agentmonitor/internal/launcher"
	"github.com/N3RDMJ/Agentmonitor/internal/protocol"
	"github.com/N3RDMJ/Agentmonitor/internal/threadstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript drops an executable shell script standing in for the tool
// binary.
func writeScript(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell script test double")
	}

	path := filepath.Join(t.TempDir(), "fake-claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))

	return path
}

type claudeFixture struct {
	adapter *Claude
	store   *threadstore.Store
	sink    chan protocol.Envelope
	table   *protocol.CallbackTable
}

func newClaudeFixture(t *testing.T, bin string) *claudeFixture {
	t.Helper()

	store := threadstore.Load(testLogger(), filepath.Join(t.TempDir(), "threads.json"))
	sink := make(chan protocol.Envelope, 64)
	table := protocol.NewCallbackTable()

	a := NewClaude(
		testLogger(), "ws-1", t.TempDir(),
		launcher.Config{Tool: launcher.ToolClaude, Bin: bin},
		store, protocol.SinkFunc(func(ev protocol.Envelope) { sink <- ev }), table,
	)

	return &claudeFixture{adapter: a, store: store, sink: sink, table: table}
}

func requestResult(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()

	res, ok := resp["result"].(map[string]any)
	require.True(t, ok, "response %v has no result object", resp)

	return res
}

func waitEvent(t *testing.T, ch <-chan map[string]any) map[string]any {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")

		return nil
	}
}

func TestClaudeInitialize(t *testing.T) {
	fx := newClaudeFixture(t, "claude")

	resp, err := fx.adapter.SendRequest(context.Background(), "initialize", nil)
	require.NoError(t, err)

	res := requestResult(t, resp)
	assert.Contains(t, res, "serverInfo")
	assert.Contains(t, res, "capabilities")
}

func TestClaudeThreadLifecycle(t *testing.T) {
	fx := newClaudeFixture(t, "claude")
	ctx := context.Background()

	resp, err := fx.adapter.SendRequest(ctx, "thread/start", nil)
	require.NoError(t, err)

	threadID, ok := requestResult(t, resp)["threadId"].(string)
	require.True(t, ok)
	require.NotEmpty(t, threadID)

	// Resume only checks existence; there is no process to reconnect.
	resp, err = fx.adapter.SendRequest(ctx, "thread/resume", map[string]any{"threadId": threadID})
	require.NoError(t, err)
	assert.Equal(t, threadID, requestResult(t, resp)["threadId"])

	_, err = fx.adapter.SendRequest(ctx, "thread/resume", map[string]any{"threadId": "missing"})
	assert.ErrorIs(t, err, errors.ErrThreadNotFound)

	_, err = fx.adapter.SendRequest(ctx, "thread/name/set",
		map[string]any{"threadId": threadID, "name": "refactor"})
	require.NoError(t, err)

	resp, err = fx.adapter.SendRequest(ctx, "thread/fork", map[string]any{"threadId": threadID})
	require.NoError(t, err)

	forkedID, ok := requestResult(t, resp)["threadId"].(string)
	require.True(t, ok)
	require.NotEqual(t, threadID, forkedID)

	resp, err = fx.adapter.SendRequest(ctx, "thread/list", nil)
	require.NoError(t, err)

	threads, ok := requestResult(t, resp)["threads"].([]any)
	require.True(t, ok)
	assert.Len(t, threads, 2)

	_, err = fx.adapter.SendRequest(ctx, "thread/archive", map[string]any{"threadId": forkedID})
	require.NoError(t, err)

	resp, err = fx.adapter.SendRequest(ctx, "thread/list", nil)
	require.NoError(t, err)
	assert.Len(t, requestResult(t, resp)["threads"].([]any), 1)
}

func TestClaudeThreadParamValidation(t *testing.T) {
	fx := newClaudeFixture(t, "claude")
	ctx := context.Background()

	for _, method := range []string{"thread/resume", "thread/fork", "thread/archive", "thread/name/set"} {
		_, err := fx.adapter.SendRequest(ctx, method, nil)
		assert.ErrorIs(t, err, errors.ErrMissingThreadID, method)
	}
}

func TestClaudeStaticSurfaces(t *testing.T) {
	fx := newClaudeFixture(t, "claude")
	ctx := context.Background()

	resp, err := fx.adapter.SendRequest(ctx, "model/list", nil)
	require.NoError(t, err)

	res := requestResult(t, resp)
	models, ok := res["models"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, models)
	assert.NotEmpty(t, res["defaultModel"])

	resp, err = fx.adapter.SendRequest(ctx, "account/read", nil)
	require.NoError(t, err)
	assert.Equal(t, "claude", requestResult(t, resp)["provider"])

	resp, err = fx.adapter.SendRequest(ctx, "account/rateLimits/read", nil)
	require.NoError(t, err)
	assert.Nil(t, resp["result"])

	for method, key := range map[string]string{
		"collaborationMode/list": "modes",
		"skills/list":            "skills",
		"app/list":               "apps",
		"mcpServerStatus/list":   "servers",
	} {
		resp, err := fx.adapter.SendRequest(ctx, method, nil)
		require.NoError(t, err, method)
		assert.Empty(t, requestResult(t, resp)[key], method)
	}

	resp, err = fx.adapter.SendRequest(ctx, "thread/compact/start", map[string]any{"threadId": "t"})
	require.NoError(t, err)
	assert.NotNil(t, resp["result"])
}

func TestClaudeUnsupportedMethod(t *testing.T) {
	fx := newClaudeFixture(t, "claude")

	_, err := fx.adapter.SendRequest(context.Background(), "fs/read", nil)
	require.Error(t, err)

	var unsupported *errors.UnsupportedMethodError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "fs/read", unsupported.Method)
}

func TestClaudeTurnParamValidation(t *testing.T) {
	fx := newClaudeFixture(t, "claude")
	ctx := context.Background()

	_, err := fx.adapter.SendRequest(ctx, "turn/start", map[string]any{"input": "hi"})
	assert.ErrorIs(t, err, errors.ErrMissingThreadID)

	_, err = fx.adapter.SendRequest(ctx, "turn/start", map[string]any{"threadId": "t1"})
	assert.ErrorIs(t, err, errors.ErrMissingInput)
}

func TestClaudeTurnCommand(t *testing.T) {
	fx := newClaudeFixture(t, "claude")

	cmd, err := fx.adapter.turnCommand("sess-9", "do the thing", "max")
	require.NoError(t, err)

	args := cmd.Args[1:]
	assert.Contains(t, args, "-p")
	assert.Contains(t, args, "--verbose")
	assert.Equal(t, "do the thing", args[len(args)-1], "prompt must be the final argument")

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--output-format stream-json")
	assert.Contains(t, joined, "--resume sess-9")

	env := strings.Join(cmd.Env, "\n")
	assert.Contains(t, env, "CLAUDE_CODE_EFFORT_LEVEL=high")
	assert.Contains(t, env, "CLAUDE_CODE_MAX_THINKING_TOKENS=128000")

	cmd, err = fx.adapter.turnCommand("", "prompt", "low")
	require.NoError(t, err)
	assert.NotContains(t, strings.Join(cmd.Args, " "), "--resume")
	assert.Contains(t, strings.Join(cmd.Env, "\n"), "CLAUDE_CODE_EFFORT_LEVEL=low")

	cmd, err = fx.adapter.turnCommand("", "prompt", "")
	require.NoError(t, err)
	assert.NotContains(t, strings.Join(cmd.Env, "\n"), "CLAUDE_CODE_EFFORT_LEVEL")
}

func TestClaudeTurnStreamsAndCapturesSession(t *testing.T) {
	script := writeScript(t, `
echo '{"type":"system","subtype":"init","session_id":"sess-abc"}'
echo '{"type":"content_block_delta","delta":{"type":"text_delta","text":"hello"}}'
echo '{"type":"result","cost_usd":0.01,"duration_ms":42}'
`)
	fx := newClaudeFixture(t, script)
	ctx := context.Background()

	resp, err := fx.adapter.SendRequest(ctx, "thread/start", nil)
	require.NoError(t, err)
	threadID := requestResult(t, resp)["threadId"].(string)

	events := make(chan map[string]any, 16)
	fx.table.Register(threadID, events)

	resp, err = fx.adapter.SendRequest(ctx, "turn/start",
		map[string]any{"threadId": threadID, "input": "hi"})
	require.NoError(t, err)

	turn, ok := requestResult(t, resp)["turn"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, turn["id"])

	var methods []string
	for {
		ev := waitEvent(t, events)
		method := ev["method"].(string)
		methods = append(methods, method)

		if method == "turn/completed" {
			break
		}
	}

	assert.Equal(t, []string{"turn/started", "item/agentMessage/delta", "turn/completed"}, methods)
	assert.Empty(t, fx.sink, "registered thread events must bypass the main sink")

	sid, ok := fx.store.ExternalSessionID(threadID)
	require.True(t, ok, "session id from the init record must be persisted")
	assert.Equal(t, "sess-abc", sid)

	require.NoError(t, fx.adapter.Kill(ctx))
}

func TestClaudeTurnSynthesizesTerminalEvent(t *testing.T) {
	script := writeScript(t, `
echo '{"type":"system","subtype":"init","session_id":"s1"}'
echo '{"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}'
`)
	fx := newClaudeFixture(t, script)
	ctx := context.Background()

	resp, err := fx.adapter.SendRequest(ctx, "thread/start", nil)
	require.NoError(t, err)
	threadID := requestResult(t, resp)["threadId"].(string)

	events := make(chan map[string]any, 16)
	fx.table.Register(threadID, events)

	_, err = fx.adapter.SendRequest(ctx, "turn/start",
		map[string]any{"threadId": threadID, "input": "hi"})
	require.NoError(t, err)

	var terminals int
	for {
		ev := waitEvent(t, events)
		if ev["method"] == "turn/completed" {
			terminals++

			break
		}
	}

	// Nothing further may arrive after the synthesized terminal.
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after terminal: %v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	assert.Equal(t, 1, terminals)
}

func TestClaudeTurnInterrupt(t *testing.T) {
	script := writeScript(t, `
echo '{"type":"system","subtype":"init","session_id":"s1"}'
sleep 30
echo '{"type":"result"}'
`)
	fx := newClaudeFixture(t, script)
	ctx := context.Background()

	resp, err := fx.adapter.SendRequest(ctx, "thread/start", nil)
	require.NoError(t, err)
	threadID := requestResult(t, resp)["threadId"].(string)

	events := make(chan map[string]any, 16)
	fx.table.Register(threadID, events)

	_, err = fx.adapter.SendRequest(ctx, "turn/start",
		map[string]any{"threadId": threadID, "input": "hi"})
	require.NoError(t, err)

	started := waitEvent(t, events)
	assert.Equal(t, "turn/started", started["method"])

	_, err = fx.adapter.SendRequest(ctx, "turn/interrupt", nil)
	require.NoError(t, err)

	// Interruption is terminal: no synthesized completion follows.
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after interrupt: %v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClaudeInterruptWithoutActiveTurn(t *testing.T) {
	fx := newClaudeFixture(t, "claude")

	resp, err := fx.adapter.SendRequest(context.Background(), "turn/interrupt", nil)
	require.NoError(t, err)
	assert.NotNil(t, resp["result"])

	assert.NoError(t, fx.adapter.Kill(context.Background()))
}
