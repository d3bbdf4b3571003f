package adapter

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/N3RDMJ/Agentmonitor/internal/errors"
	"github.com/N3RDMJ/Agentmonitor/internal/launcher"
	"github.com/N3RDMJ/Agentmonitor/internal/session"
)

// DefaultHandshakeTimeout bounds the initialize → initialized handshake.
const DefaultHandshakeTimeout = 15 * time.Second

// Passthrough delegates every capability directly to a Session whose
// process speaks the canonical protocol natively.
type Passthrough struct {
	log  *slog.Logger
	sess *session.Session
}

// Compile-time verification that Passthrough implements Adapter.
var _ Adapter = (*Passthrough)(nil)

// NewPassthrough wraps sess and performs the bounded-time handshake:
// an initialize request carrying client info, answered within timeout,
// followed by the initialized notification. On timeout the process tree
// is force-killed and the returned error names the tool.
func NewPassthrough(
	ctx context.Context,
	log *slog.Logger,
	sess *session.Session,
	tool launcher.Tool,
	clientVersion string,
	timeout time.Duration,
) (*Passthrough, error) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	p := &Passthrough{
		log:  log.With("component", "passthrough", "tool", string(tool)),
		sess: sess,
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := map[string]any{
		"clientInfo": map[string]any{
			"name":    "agentmonitor",
			"title":   "AgentMonitor",
			"version": clientVersion,
		},
	}

	resp, err := sess.SendRequest(hctx, "initialize", params)
	if err != nil {
		p.log.Warn("Handshake failed, killing process tree", "error", err)

		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer killCancel()

		_ = sess.Kill(killCtx)

		if stderrors.Is(err, errors.ErrRequestCanceled) && ctx.Err() == nil {
			return nil, &errors.HandshakeTimeoutError{Tool: tool.DisplayName(), Timeout: timeout}
		}

		return nil, fmt.Errorf("initialize %s: %w", tool.DisplayName(), err)
	}

	if errVal, ok := resp["error"]; ok {
		return nil, fmt.Errorf("%s rejected initialize: %v", tool.DisplayName(), errVal)
	}

	if err := sess.SendNotification(ctx, "initialized", nil); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	p.log.Info("Handshake complete")

	return p, nil
}

// SendRequest implements Adapter.
func (p *Passthrough) SendRequest(
	ctx context.Context,
	method string,
	params map[string]any,
) (map[string]any, error) {
	return p.sess.SendRequest(ctx, method, params)
}

// SendNotification implements Adapter.
func (p *Passthrough) SendNotification(ctx context.Context, method string, params map[string]any) error {
	return p.sess.SendNotification(ctx, method, params)
}

// SendResponse implements Adapter.
func (p *Passthrough) SendResponse(ctx context.Context, id any, result any) error {
	return p.sess.SendResponse(ctx, id, result)
}

// Kill implements Adapter.
func (p *Passthrough) Kill(ctx context.Context) error {
	return p.sess.Kill(ctx)
}
