package rollout

import (
	"context"
	"sync"
	"time"

	"github.com/srab2001/featuregate/internal/observability"
)

// ticker is the recurring health-check task of one plan. Each plan owns its
// own goroutine, so stopping one never delays another.
type ticker struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// startTicker calls fn every interval until stop. fn receives a context that
// is cancelled by stop, so an in-flight tick can tell its result is stale.
func startTicker(interval time.Duration, fn func(ctx context.Context)) *ticker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &ticker{cancel: cancel, done: make(chan struct{})}
	observability.RolloutActivePlans.Inc()

	go func() {
		defer close(t.done)
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				fn(ctx)
			}
		}
	}()
	return t
}

// stop cancels the pending wait and any in-flight tick. It does not block and
// is safe to call more than once, including from inside fn.
func (t *ticker) stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		observability.RolloutActivePlans.Dec()
	})
}
