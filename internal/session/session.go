// Package session owns one spawned canonical-protocol agent process:
// serialized line-framed writes to its stdin, the pending-request
// correlation table, and the reader tasks that classify and route every
// line of its output.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/N3RDMJ/Agentmonitor/internal/errors"
	"github.com/N3RDMJ/Agentmonitor/internal/proctree"
	"github.com/N3RDMJ/Agentmonitor/internal/protocol"
)

// maxScanTokenSize is the maximum length of one output line. Agent CLIs
// emit whole file diffs inside single JSON lines.
const maxScanTokenSize = 1024 * 1024 // 1MB

// Session owns one spawned agent process speaking the canonical protocol.
//
// All outbound writes are serialized by a single lock, so concurrent
// SendRequest/SendNotification calls never interleave partial lines.
// The pending table maps request ids to single-use completion slots;
// ids increase monotonically and are never reused within a session.
type Session struct {
	log         *slog.Logger
	workspaceID string
	tool        string

	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdinMu     sync.Mutex
	stdinClosed bool

	pendingMu sync.Mutex
	pending   map[uint64]chan map[string]any
	nextID    atomic.Uint64

	callbacks *protocol.CallbackTable
	sink      protocol.EventSink

	readers   *errgroup.Group
	done      chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool
}

// Spawn starts cmd with piped standard streams and begins the stdout and
// stderr reader tasks. The tool name is used only in error text.
func Spawn(
	log *slog.Logger,
	workspaceID string,
	tool string,
	cmd *exec.Cmd,
	sink protocol.EventSink,
	callbacks *protocol.CallbackTable,
) (*Session, error) {
	proctree.Setup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &errors.SpawnError{Tool: tool, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &errors.SpawnError{Tool: tool, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &errors.SpawnError{Tool: tool, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &errors.SpawnError{Tool: tool, Err: fmt.Errorf("start process: %w", err)}
	}

	s := &Session{
		log:         log.With("component", "session", "workspace_id", workspaceID),
		workspaceID: workspaceID,
		tool:        tool,
		cmd:         cmd,
		stdin:       stdin,
		pending:     make(map[uint64]chan map[string]any, 10),
		callbacks:   callbacks,
		sink:        sink,
		readers:     &errgroup.Group{},
		done:        make(chan struct{}),
	}

	s.log.Info("Agent process started", "tool", tool, "pid", cmd.Process.Pid)

	s.readers.Go(func() error {
		s.readOutput(stdout)

		return nil
	})
	s.readers.Go(func() error {
		s.readDiagnostics(stderr)

		return nil
	})

	// Reap the process once both pipes drain, then unblock every waiter.
	go func() {
		_ = s.readers.Wait()

		if err := cmd.Wait(); err != nil && !s.closing.Load() {
			s.log.Warn("Agent process exited with error", "tool", tool, "error", err)
		}

		s.closeDone()
	}()

	return s, nil
}

func (s *Session) closeDone() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed once the process has exited and both readers stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// WorkspaceID returns the owning workspace's id.
func (s *Session) WorkspaceID() string {
	return s.workspaceID
}

// writeLine marshals v and writes it as one line under the stdin lock.
func (s *Session) writeLine(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()

	if s.stdinClosed {
		return errors.ErrStdinClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errors.ErrSessionClosed
	default:
	}

	line := make([]byte, len(data)+1)
	copy(line, data)
	line[len(data)] = '\n'

	// Write in a goroutine so a full stdin pipe cannot pin the caller
	// past its context. A child that stops draining stdin blocks Write
	// indefinitely otherwise.
	wrote := make(chan error, 1)

	go func() {
		_, werr := s.stdin.Write(line)
		wrote <- werr
	}()

	select {
	case werr := <-wrote:
		if werr != nil {
			return fmt.Errorf("write to %s stdin: %w", s.tool, werr)
		}

		return nil

	case <-ctx.Done():
		// Close stdin to unblock the writer. A partially written line
		// leaves the stream unusable anyway.
		s.log.Debug("Context done during write, closing stdin")
		s.stdinClosed = true
		_ = s.stdin.Close()

		select {
		case <-wrote:
		case <-time.After(1 * time.Second):
			s.log.Warn("Write did not unblock after stdin close")
		}

		return fmt.Errorf("write to %s stdin: %w", s.tool, ctx.Err())

	case <-s.done:
		s.stdinClosed = true
		_ = s.stdin.Close()

		return errors.ErrSessionClosed
	}
}

// SendRequest allocates the next request id, registers a completion slot,
// writes the framed request line, and suspends until the response arrives,
// the caller's context is done (reported as cancellation, distinct from a
// protocol error), or the process exits.
//
// The returned map is the raw response message; callers inspect its
// "result" or "error" member.
func (s *Session) SendRequest(
	ctx context.Context,
	method string,
	params map[string]any,
) (map[string]any, error) {
	id := s.nextID.Add(1)
	slot := make(chan map[string]any, 1)

	s.pendingMu.Lock()
	s.pending[id] = slot
	s.pendingMu.Unlock()

	s.log.Debug("Sending request", "id", id, "method", method)

	if err := s.writeLine(ctx, protocol.Request{ID: id, Method: method, Params: params}); err != nil {
		s.removePending(id)

		return nil, err
	}

	select {
	case msg := <-slot:
		return msg, nil

	case <-ctx.Done():
		s.removePending(id)
		s.log.Debug("Request abandoned by caller", "id", id, "method", method)

		return nil, fmt.Errorf("%w: %s", errors.ErrRequestCanceled, method)

	case <-s.done:
		s.removePending(id)

		return nil, fmt.Errorf("%w: %s did not answer %s", errors.ErrSessionClosed, s.tool, method)
	}
}

// SendNotification writes a fire-and-forget message with no correlation.
func (s *Session) SendNotification(ctx context.Context, method string, params map[string]any) error {
	s.log.Debug("Sending notification", "method", method)

	return s.writeLine(ctx, protocol.Notification{Method: method, Params: params})
}

// SendResponse answers a process-originated request. The id is echoed
// opaquely.
func (s *Session) SendResponse(ctx context.Context, id any, result any) error {
	return s.writeLine(ctx, protocol.Response{ID: id, Result: result})
}

func (s *Session) removePending(id uint64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// resolve removes and fills the pending slot for id, exactly once.
// A response for an unknown id is dropped: no caller exists to notify.
func (s *Session) resolve(id uint64, msg map[string]any) {
	s.pendingMu.Lock()
	slot, ok := s.pending[id]

	if ok {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	if !ok {
		s.log.Debug("Response for unknown request id dropped", "id", id)

		return
	}

	slot <- msg
}

// emit delivers a canonical event, unless a background callback claims
// the message's thread id.
func (s *Session) emit(msg map[string]any) {
	if tid, ok := protocol.ExtractThreadID(msg); ok {
		if s.callbacks.Dispatch(tid, msg) {
			return
		}
	}

	s.sink.Emit(protocol.Envelope{WorkspaceID: s.workspaceID, Message: msg})
}

// readOutput is the transport reader loop. It runs until end-of-stream or
// a read error and never terminates because of a single malformed or
// unexpected message.
func (s *Session) readOutput(stdout io.Reader) {
	defer s.log.Debug("Output reader stopped")

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, maxScanTokenSize), maxScanTokenSize)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var msg map[string]any

		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			s.log.Debug("Unparseable output line", "error", err)
			s.sink.Emit(protocol.Envelope{
				WorkspaceID: s.workspaceID,
				Message:     protocol.ParseErrorEvent(err, line),
			})

			continue
		}

		switch protocol.Classify(msg) {
		case protocol.KindResponse:
			id, _ := protocol.MessageID(msg)
			s.resolve(id, msg)

		case protocol.KindRequest, protocol.KindNotification:
			s.emit(msg)

		case protocol.KindAck:
			// Unusual shape: an id with neither method nor result/error.
			// Resolve the pending request anyway rather than strand the
			// caller.
			id, _ := protocol.MessageID(msg)
			s.resolve(id, msg)

		case protocol.KindUnknown:
		}
	}

	if err := scanner.Err(); err != nil {
		s.log.Debug("Output scanner error", "error", err)
	}
}

// readDiagnostics forwards every non-blank stderr line as a diagnostic
// event. Independent of the output reader; never blocks it.
func (s *Session) readDiagnostics(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, maxScanTokenSize), maxScanTokenSize)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		s.sink.Emit(protocol.Envelope{
			WorkspaceID: s.workspaceID,
			Message:     protocol.StderrEvent(line),
		})
	}
}

// Kill terminates the full process tree and waits for the process to be
// reaped, bounded by ctx. Safe to call multiple times.
func (s *Session) Kill(ctx context.Context) error {
	s.closing.Store(true)

	// Signal the tree before touching the stdin lock: a writer blocked
	// on a full pipe holds the lock until the child dies.
	proctree.Kill(s.cmd)

	s.stdinMu.Lock()

	if !s.stdinClosed {
		s.stdinClosed = true
		_ = s.stdin.Close()
	}
	s.stdinMu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s to exit: %w", s.tool, ctx.Err())
	}
}
