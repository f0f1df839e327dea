package peer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// gatherWait tracks candidate discovery for one connection.
type gatherWait struct {
	candidates atomic.Int32

	doneOnce   sync.Once
	done       chan struct{}
	cancelOnce sync.Once
	cancelled  chan struct{}
}

func newGatherWait() *gatherWait {
	return &gatherWait{done: make(chan struct{}), cancelled: make(chan struct{})}
}

func (g *gatherWait) candidate() { g.candidates.Add(1) }

func (g *gatherWait) complete() { g.doneOnce.Do(func() { close(g.done) }) }

func (g *gatherWait) cancel() { g.cancelOnce.Do(func() { close(g.cancelled) }) }

// wait blocks until gathering completes, is cancelled, or timeout passes.
// A timeout with candidates in hand resolves with the partial set; one with
// none fails with ErrIceGatheringTimeout. Cancellation resolves.
// promise may be nil.
func (g *gatherWait) wait(ctx context.Context, timeout time.Duration, promise <-chan struct{}) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.done:
	case <-promise:
	case <-g.cancelled:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if g.candidates.Load() == 0 {
			return ErrIceGatheringTimeout
		}
	}
	return nil
}
