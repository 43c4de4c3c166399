// internal/browser/network_idle.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// idleTracker counts in-flight requests for one tab so callers can wait for
// the network to go quiet.
type idleTracker struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	inflight map[network.RequestID]struct{}
	// lastChange is bumped on every request start or finish.
	lastChange time.Time
}

func newIdleTracker(logger *zap.Logger) *idleTracker {
	return &idleTracker{
		logger:     logger.Named("network"),
		inflight:   make(map[network.RequestID]struct{}),
		lastChange: time.Now(),
	}
}

// listen subscribes to the tab's network events for the lifetime of ctx.
func (t *idleTracker) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			t.started(e.RequestID)
		case *network.EventLoadingFinished:
			t.finished(e.RequestID)
		case *network.EventLoadingFailed:
			t.finished(e.RequestID)
		}
	})
}

func (t *idleTracker) started(id network.RequestID) {
	t.mu.Lock()
	t.inflight[id] = struct{}{}
	t.lastChange = time.Now()
	t.mu.Unlock()
}

func (t *idleTracker) finished(id network.RequestID) {
	t.mu.Lock()
	if _, ok := t.inflight[id]; ok {
		delete(t.inflight, id)
		t.lastChange = time.Now()
	}
	t.mu.Unlock()
}

func (t *idleTracker) snapshot() (int, time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inflight), t.lastChange
}

// WaitIdle blocks until no request has been in flight for quietPeriod.
func (t *idleTracker) WaitIdle(ctx context.Context, quietPeriod time.Duration) error {
	ticker := time.NewTicker(quietPeriod / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n, _ := t.snapshot()
			t.logger.Debug("Network idle wait aborted.", zap.Int("inflight_requests", n), zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
			n, last := t.snapshot()
			if n > 0 {
				t.logger.Debug("Waiting for network idle...", zap.Int("inflight_requests", n))
				continue
			}
			if time.Since(last) >= quietPeriod {
				return nil
			}
		}
	}
}
