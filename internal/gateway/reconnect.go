package gateway

import (
	"context"
	"time"
)

// reconnectLoop periodically retries connects for every neighbor currently
// marked as needing reconnection, per spec.md §4.5. It runs with
// tick-after-drain cadence: the next attempt is scheduled
// ReconnectionInterval after the *prior* attempt's completion, not on a
// fixed-rate ticker, so a slow batch of connects cannot overlap the next
// tick.
//
// Grounded on dtn.Node.runMaintenance's time.Ticker-driven periodic
// maintenance goroutine, adapted from a fixed-rate ticker to the
// wait-then-attempt-then-repeat loop spec.md requires.
func (t *Transport) reconnectLoop(ctx context.Context) {
	defer t.wg.Done()

	timer := time.NewTimer(t.cfg.ReconnectionInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		t.runReconnectTick(ctx)

		select {
		case <-ctx.Done():
			return
		default:
			timer.Reset(t.cfg.ReconnectionInterval)
		}
	}
}

// runReconnectTick attempts connect() for every neighbor currently in
// needsReconnect, concurrently. Successes are dropped from the set;
// failures remain. Outcomes are never propagated to a caller — spec.md
// §7: "during a reconnection tick it is swallowed."
func (t *Transport) runReconnectTick(_ context.Context) {
	t.mu.Lock()
	pending := t.neighbors.pendingReconnects()
	t.mu.Unlock()

	done := make(chan struct{}, len(pending))
	for _, n := range pending {
		n := n
		go func() {
			defer func() { done <- struct{}{} }()
			// Not tied to the reconnect loop's context: shutdown disarms
			// the loop but does not cancel connects already in flight
			// (spec.md §5).
			if err := t.connect(context.Background(), n); err != nil {
				t.metrics.ReconnectsTotal.WithLabelValues("failure").Inc()
				return
			}
			t.metrics.ReconnectsTotal.WithLabelValues("success").Inc()
			t.mu.Lock()
			t.neighbors.clearNeedsReconnect(n)
			t.mu.Unlock()
		}()
	}
	for range pending {
		<-done
	}
}
