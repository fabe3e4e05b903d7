package indexer

import (
	"sync/atomic"
	"time"
)

// buildGate admits one warm-up at a time. A caller that finds the gate taken
// is turned away instead of queueing behind a full-scope build.
type buildGate struct {
	started atomic.Int64 // unix nanos of the running warm-up, 0 when idle
}

func (g *buildGate) enter(now time.Time) bool {
	return g.started.CompareAndSwap(0, now.UnixNano())
}

// leave must only be called after a successful enter
func (g *buildGate) leave() {
	g.started.Store(0)
}

// since returns the start time of the running warm-up
func (g *buildGate) since() (time.Time, bool) {
	n := g.started.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}
