package session

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// DefaultGatherTimeout bounds how long a connection attempt waits for ICE
// gathering before producing a token from whatever candidates have arrived.
// Some environments never report completion (an unreachable TURN server,
// for one), so the cutoff is part of the protocol rather than an error.
const DefaultGatherTimeout = 5 * time.Second

// gatherer buffers asynchronously discovered ICE candidates for one
// connection attempt and bounds the wait for gathering to finish.
type gatherer struct {
	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit

	done     chan struct{}
	doneOnce sync.Once
}

func newGatherer() *gatherer {
	return &gatherer{done: make(chan struct{})}
}

// add buffers one discovered candidate.
func (g *gatherer) add(c webrtc.ICECandidateInit) {
	g.mu.Lock()
	g.candidates = append(g.candidates, c)
	g.mu.Unlock()
}

// markComplete records that the transport finished gathering. Safe to call
// more than once.
func (g *gatherer) markComplete() {
	g.doneOnce.Do(func() { close(g.done) })
}

// wait blocks until gathering completes, the timeout elapses, or ctx is
// cancelled, whichever comes first, and returns the candidates buffered so
// far. Hitting the timeout is a deliberate best-effort cutoff, never an
// error.
func (g *gatherer) wait(ctx context.Context, timeout time.Duration) []webrtc.ICECandidateInit {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.done:
	case <-timer.C:
	case <-ctx.Done():
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(g.candidates))
	copy(out, g.candidates)
	return out
}
