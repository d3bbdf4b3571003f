package session

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sync/errgroup"

	"github.com/N3RDMJ/Agentmonitor/internal/errors"
	"github.com/N3RDMJ/Agentmonitor/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoServerScript speaks just enough of the protocol for tests: it
// answers every request with {"id":N,"result":{"ok":true}} and can emit
// canned lines before entering the serve loop.
const echoServerScript = `#!/bin/sh
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9][0-9]*\).*/\1/p')
  if [ -n "$id" ]; then
    echo "{\"id\":$id,\"result\":{\"ok\":true}}"
  fi
done
`

func writeScript(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell script test double")
	}

	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))

	return path
}

type fixture struct {
	sess   *Session
	events chan protocol.Envelope
	table  *protocol.CallbackTable
}

func spawnFixture(t *testing.T, script string) *fixture {
	t.Helper()

	events := make(chan protocol.Envelope, 64)
	table := protocol.NewCallbackTable()

	sess, err := Spawn(
		testLogger(), "ws-1", "FakeAgent",
		exec.Command(script),
		protocol.SinkFunc(func(ev protocol.Envelope) { events <- ev }),
		table,
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = sess.Kill(ctx)
	})

	return &fixture{sess: sess, events: events, table: table}
}

func waitEnvelope(t *testing.T, ch <-chan protocol.Envelope) protocol.Envelope {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for envelope")

		return protocol.Envelope{}
	}
}

func method(ev protocol.Envelope) string {
	m, _ := ev.Message["method"].(string)

	return m
}

func TestSendRequestResolvesResponse(t *testing.T) {
	fx := spawnFixture(t, writeScript(t, echoServerScript))

	resp, err := fx.sess.SendRequest(context.Background(), "thread/start", nil)
	require.NoError(t, err)

	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["ok"])
}

func TestConcurrentRequestsResolveIndependently(t *testing.T) {
	fx := spawnFixture(t, writeScript(t, echoServerScript))

	var g errgroup.Group

	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := fx.sess.SendRequest(context.Background(), "model/list", nil)

			return err
		})
	}

	require.NoError(t, g.Wait())
}

func TestMalformedLineEmitsDiagnosticAndContinues(t *testing.T) {
	script := `#!/bin/sh
echo 'this is not json'
` + echoServerScript[len("#!/bin/sh\n"):]
	fx := spawnFixture(t, writeScript(t, script))

	ev := waitEnvelope(t, fx.events)
	require.Equal(t, protocol.MethodParseError, method(ev))
	assert.Equal(t, "ws-1", ev.WorkspaceID)

	params := ev.Message["params"].(map[string]any)
	assert.Equal(t, "this is not json", params["raw"])

	// The reader survived the bad line.
	_, err := fx.sess.SendRequest(context.Background(), "thread/start", nil)
	require.NoError(t, err)
}

func TestNotificationsReachSink(t *testing.T) {
	script := `#!/bin/sh
echo '{"method":"account/updated","params":{}}'
exec cat > /dev/null
`
	fx := spawnFixture(t, writeScript(t, script))

	ev := waitEnvelope(t, fx.events)
	assert.Equal(t, "account/updated", method(ev))
	assert.Equal(t, "ws-1", ev.WorkspaceID)
}

func TestBackgroundThreadRouting(t *testing.T) {
	script := `#!/bin/sh
echo '{"method":"item/started","params":{"threadId":"bg-1"}}'
echo '{"method":"item/started","params":{"threadId":"fg-1"}}'
echo '{"method":"turn/completed","params":{"thread_id":"bg-1"}}'
exec cat > /dev/null
`
	background := make(chan map[string]any, 8)
	events := make(chan protocol.Envelope, 8)
	table := protocol.NewCallbackTable()
	table.Register("bg-1", background)

	sess, err := Spawn(
		testLogger(), "ws-1", "FakeAgent",
		exec.Command(writeScript(t, script)),
		protocol.SinkFunc(func(ev protocol.Envelope) { events <- ev }),
		table,
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = sess.Kill(ctx)
	})

	// Both background events, including the snake_case one, are diverted.
	first := <-background
	assert.Equal(t, "item/started", first["method"])

	ev := waitEnvelope(t, events)
	assert.Equal(t, "item/started", method(ev))
	tid, _ := protocol.ExtractThreadID(ev.Message)
	assert.Equal(t, "fg-1", tid)

	second := <-background
	assert.Equal(t, "turn/completed", second["method"])

	assert.Empty(t, events, "no background event may reach the sink while registered")
}

func TestStderrBecomesDiagnosticEvent(t *testing.T) {
	script := `#!/bin/sh
echo 'something went sideways' >&2
exec cat > /dev/null
`
	fx := spawnFixture(t, writeScript(t, script))

	ev := waitEnvelope(t, fx.events)
	require.Equal(t, protocol.MethodStderr, method(ev))

	params := ev.Message["params"].(map[string]any)
	assert.Equal(t, "something went sideways", params["message"])
}

func TestUnknownResponseIDDropped(t *testing.T) {
	script := `#!/bin/sh
echo '{"id":999,"result":{}}'
` + echoServerScript[len("#!/bin/sh\n"):]
	fx := spawnFixture(t, writeScript(t, script))

	// The stray response is dropped silently; a real request still works.
	resp, err := fx.sess.SendRequest(context.Background(), "thread/start", nil)
	require.NoError(t, err)
	assert.Contains(t, resp, "result")

	assert.Empty(t, fx.events)
}

func TestRequestCanceledByCaller(t *testing.T) {
	// Reads forever, never answers.
	script := `#!/bin/sh
exec cat > /dev/null
`
	fx := spawnFixture(t, writeScript(t, script))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := fx.sess.SendRequest(ctx, "thread/start", nil)
	assert.ErrorIs(t, err, errors.ErrRequestCanceled)
}

func TestRequestFailsWhenProcessExits(t *testing.T) {
	// Exits immediately without answering anything.
	script := `#!/bin/sh
exit 0
`
	fx := spawnFixture(t, writeScript(t, script))

	// Depending on timing the failure surfaces as a closed session, a
	// closed stdin, or a broken pipe. It must surface as something.
	_, err := fx.sess.SendRequest(context.Background(), "thread/start", nil)
	require.Error(t, err)
	assert.False(t, stderrors.Is(err, errors.ErrRequestCanceled), "got %v", err)
}

func TestKillUnblocksWaiters(t *testing.T) {
	script := `#!/bin/sh
exec cat > /dev/null
`
	fx := spawnFixture(t, writeScript(t, script))

	errCh := make(chan error, 1)

	go func() {
		_, err := fx.sess.SendRequest(context.Background(), "thread/start", nil)
		errCh <- err
	}()

	// Give the request a moment to register before tearing down.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fx.sess.Kill(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errors.ErrSessionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not unblocked by Kill")
	}

	select {
	case <-fx.sess.Done():
	default:
		t.Fatal("Done must be closed after Kill")
	}

	// Idempotent.
	require.NoError(t, fx.sess.Kill(ctx))
}

func TestSendNotificationAndResponse(t *testing.T) {
	fx := spawnFixture(t, writeScript(t, echoServerScript))
	ctx := context.Background()

	require.NoError(t, fx.sess.SendNotification(ctx, "initialized", nil))
	require.NoError(t, fx.sess.SendResponse(ctx, "req-7", map[string]any{"granted": true}))
}

func TestBareAckResolvesRequest(t *testing.T) {
	// Answers every request with only its id, no result or error.
	script := `#!/bin/sh
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9][0-9]*\).*/\1/p')
  if [ -n "$id" ]; then
    echo "{\"id\":$id}"
  fi
done
`
	fx := spawnFixture(t, writeScript(t, script))

	resp, err := fx.sess.SendRequest(context.Background(), "thread/archive",
		map[string]any{"threadId": "t1"})
	require.NoError(t, err, "a bare acknowledgment must not strand the caller")
	assert.NotContains(t, resp, "result")
	assert.NotContains(t, resp, "error")
}

func TestBlockedWriteHonorsContext(t *testing.T) {
	// Never reads stdin, so the pipe fills and the write blocks.
	script := `#!/bin/sh
exec sleep 30
`
	fx := spawnFixture(t, writeScript(t, script))

	payload := map[string]any{"data": strings.Repeat("x", 1<<20)}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := fx.sess.SendNotification(ctx, "item/update", payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second,
		"context expiry must unblock the writer promptly")

	// Teardown must not hang behind the stdin lock.
	killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer killCancel()
	require.NoError(t, fx.sess.Kill(killCtx))
}

func TestKillUnblocksBlockedWriter(t *testing.T) {
	script := `#!/bin/sh
exec sleep 30
`
	fx := spawnFixture(t, writeScript(t, script))

	payload := map[string]any{"data": strings.Repeat("x", 1<<20)}
	errCh := make(chan error, 1)

	go func() {
		errCh <- fx.sess.SendNotification(context.Background(), "item/update", payload)
	}()

	// Let the write reach the full pipe before tearing down.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fx.sess.Kill(ctx), "Kill must not wait on the stdin lock")

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked writer was not released by Kill")
	}
}
