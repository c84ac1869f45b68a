package subscriptions

import "context"

// Result is what a notification Future resolves with: either a terminal or
// satisfying State, or a failure (RuntimeError for Error, ErrStoreGone for
// a destroyed store).
type Result struct {
	State State
	Err   error
}

// promise is a single-shot value holder resolved at most once; future()
// hands out the read side. Modeled on the channel-based promise/future
// idioms throughout bringyour-connect/connect (e.g. transferQueue's
// internal signaling, ip_remote_multi_client_monitor's callback
// registration) rather than a mutex-guarded struct, since "exactly one
// resolution, resolved off-lock" maps directly onto a buffered channel.
type promise struct {
	ch       chan Result
	resolved bool
}

func newPromise() *promise {
	return &promise{ch: make(chan Result, 1)}
}

// resolve delivers r to the future exactly once. Later calls are no-ops;
// this is only reachable from code paths (processNotifications,
// SupersedeAllExcept, Close) that each own a request exactly once, so no
// additional locking is needed here.
func (p *promise) resolve(r Result) {
	if p.resolved {
		return
	}
	p.resolved = true
	p.ch <- r
}

func (p *promise) future() *Future {
	return &Future{ch: p.ch}
}

// Future is a one-shot handle on a pending state-change notification.
type Future struct {
	ch <-chan Result
}

// readyFuture returns a Future that is already resolved with r.
func readyFuture(r Result) *Future {
	ch := make(chan Result, 1)
	ch <- r
	return &Future{ch: ch}
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (State, error) {
	select {
	case r := <-f.ch:
		return r.State, r.Err
	case <-ctx.Done():
		return StateUncommitted, ctx.Err()
	}
}

// notificationRequest is one pending entry in the registry: a promise
// waiting for version to reach notifyWhen (or Error, or be superseded).
type notificationRequest struct {
	version    int64
	notifyWhen State
	promise    *promise
}
