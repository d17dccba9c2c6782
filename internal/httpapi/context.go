package httpapi

import (
	"context"
)

// serverBaseCtx is canceled on process shutdown. Synchronous generations run
// for minutes, so /generate joins it with the request context: a drain stops
// in-flight jobs at the next frame batch instead of orphaning the device
// worker. Defaults to Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext installs the shutdown context handlers join with.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context canceled when either a or b is done, so a
// generation stops whether the client hangs up or the server drains. The
// cancel func must be called when the handler returns to release the goroutine.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		}
	}()
	return ctx, cancel
}
