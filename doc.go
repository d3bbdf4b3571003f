// Package agentmonitor brokers a controlling application and external
// coding-agent CLIs. Each workspace gets its own session: the CLI is
// spawned as a child process, spoken to over line-framed JSON, and its
// output is classified into responses (correlated back to the waiting
// caller), requests and notifications (routed to the application), and
// diagnostics.
//
// # Spawning a session
//
//	ctx := context.Background()
//	ws := agentmonitor.NewWorkspaceEntry("my-project", "/home/me/my-project")
//
//	sess, err := agentmonitor.Spawn(ctx, ws, agentmonitor.ToolGemini,
//	    func(ev agentmonitor.Event) {
//	        // requests, notifications, and diagnostics land here
//	    },
//	    agentmonitor.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Kill(ctx)
//
//	resp, err := sess.SendRequest(ctx, "thread/start", nil)
//
// # Tools
//
// Gemini and Cursor speak the session protocol natively and are driven
// through a persistent child process. Claude Code has no such mode; its
// sessions are emulated with one transient process per conversational
// turn and a per-workspace thread store, but present the same protocol
// surface, so callers never branch on tool identity.
//
// # Background threads
//
// RegisterBackgroundThread diverts every event carrying a given thread
// id to a dedicated channel instead of the session's event handler,
// letting long-running work proceed without interleaving into the
// foreground stream.
package agentmonitor
