package activity

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
)

const heartbeatInterval = 15 * time.Second

// startHeartbeat emits activity heartbeats on a fixed interval until the
// returned stop function is called. Long transfers and external commands
// block without progress callbacks, so the ticker keeps the activity
// alive for the server. Outside an activity context it is a no-op, which
// keeps the activity methods callable directly from unit tests.
func startHeartbeat(ctx context.Context, details ...any) (stop func()) {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, details...)
			}
		}
	}()
	return func() { close(done) }
}

// recordHeartbeat is a guarded single heartbeat for loops that already
// have a natural per-iteration point to report progress from.
func recordHeartbeat(ctx context.Context, details ...any) {
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, details...)
	}
}
