// Package lifecycle records whether the process still admits new calls.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is shared by the signaling and session handlers. Once draining,
// new calls are refused while sessions already in flight run to completion
// or are closed by shutdown. Draining is one-way.
type Lifecycle struct {
	drainedAt atomic.Int64
}

// Drain marks the process as draining. Only the first call records a time.
func (l *Lifecycle) Drain(now time.Time) {
	if l == nil {
		return
	}
	l.drainedAt.CompareAndSwap(0, now.UnixNano())
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.drainedAt.Load() != 0
}

// DrainingSince is the zero time when the process is not draining.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	ns := l.drainedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
