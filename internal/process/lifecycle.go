package process

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Lifecycle is the supervisor's own state.
type Lifecycle int32

const (
	// LifecycleStarting is the state before every child has been spawned.
	LifecycleStarting Lifecycle = iota
	// LifecycleRunning means every child was spawned successfully.
	LifecycleRunning
	// LifecycleShuttingDown means termination has been broadcast.
	LifecycleShuttingDown
	// LifecycleStopped is terminal: every child has exited and been reaped.
	LifecycleStopped
)

// String returns a human-readable lifecycle name.
func (l Lifecycle) String() string {
	switch l {
	case LifecycleStarting:
		return "starting"
	case LifecycleRunning:
		return "running"
	case LifecycleShuttingDown:
		return "shutting_down"
	case LifecycleStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(l))
	}
}

// lifecycle holds a Lifecycle with compare-and-swap transitions.
type lifecycle struct {
	v atomic.Int32
}

func (l *lifecycle) load() Lifecycle {
	return Lifecycle(l.v.Load())
}

// transition moves from one state to another. It returns false, leaving
// the state unchanged, if the current state is not from.
func (l *lifecycle) transition(from, to Lifecycle) bool {
	return l.v.CompareAndSwap(int32(from), int32(to))
}

// ShutdownLatch records whether termination has been requested.
//
// It starts unrequested and flips exactly once. The zero value is not
// usable; create one with NewShutdownLatch.
type ShutdownLatch struct {
	requested atomic.Bool
	done      chan struct{}

	mu     sync.RWMutex
	reason string
}

// NewShutdownLatch returns an unrequested latch.
func NewShutdownLatch() *ShutdownLatch {
	return &ShutdownLatch{done: make(chan struct{})}
}

// Request flips the latch. Only the first caller gets true.
func (l *ShutdownLatch) Request(reason string) bool {
	if !l.requested.CompareAndSwap(false, true) {
		return false
	}
	l.mu.Lock()
	l.reason = reason
	l.mu.Unlock()
	close(l.done)
	return true
}

// Requested reports whether termination has been requested.
func (l *ShutdownLatch) Requested() bool {
	return l.requested.Load()
}

// Reason returns the reason given to the first Request.
func (l *ShutdownLatch) Reason() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reason
}

// Done is closed when termination is first requested.
func (l *ShutdownLatch) Done() <-chan struct{} {
	return l.done
}
