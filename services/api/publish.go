package api

import "context"

// publishJSON emits an event without blocking the request path; delivery is
// best-effort and failures are swallowed, matching the auditor's durable
// consumer picking up replays from JetStream.
func (a *API) publishJSON(ctx context.Context, subject string, payload map[string]any) {
	if a.store.Bus == nil || subject == "" {
		return
	}
	_ = a.store.Bus.Publish(ctx, subject, payload)
}
