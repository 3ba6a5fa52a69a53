package pipeline

import (
	"sync"

	"github.com/banshee-data/velocap/internal/lidar/l2frames"
)

// FrameQueue is a FIFO of completed frames guarded by a single mutex.
// Two capacity-1 channels signal waiters: ready after a push, space after a
// pop. A signal may be stale, so waiters re-check Len.
type FrameQueue struct {
	mu     sync.Mutex
	frames []*l2frames.Frame
	ready  chan struct{}
	space  chan struct{}
}

// NewFrameQueue returns an empty queue.
func NewFrameQueue() *FrameQueue {
	return &FrameQueue{
		ready: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Push appends f.
func (q *FrameQueue) Push(f *l2frames.Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	q.mu.Unlock()
	notify(q.ready)
}

// TryPop returns the oldest frame without blocking on the lock. It returns
// false if the lock is contended or the queue is empty.
func (q *FrameQueue) TryPop() (*l2frames.Frame, bool) {
	if !q.mu.TryLock() {
		return nil, false
	}
	f, ok := q.popLocked()
	q.mu.Unlock()
	if ok {
		notify(q.space)
	}
	return f, ok
}

// Pop returns the oldest frame, or false if the queue is empty.
func (q *FrameQueue) Pop() (*l2frames.Frame, bool) {
	q.mu.Lock()
	f, ok := q.popLocked()
	q.mu.Unlock()
	if ok {
		notify(q.space)
	}
	return f, ok
}

func (q *FrameQueue) popLocked() (*l2frames.Frame, bool) {
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	if len(q.frames) == 0 {
		q.frames = nil
	}
	return f, true
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Clear drops every queued frame and returns how many were dropped.
func (q *FrameQueue) Clear() int {
	q.mu.Lock()
	n := len(q.frames)
	q.frames = nil
	q.mu.Unlock()
	notify(q.space)
	return n
}

// Ready is signalled after a push.
func (q *FrameQueue) Ready() <-chan struct{} { return q.ready }

// Space is signalled after a pop or clear.
func (q *FrameQueue) Space() <-chan struct{} { return q.space }

// Wake signals both channels so every waiter re-checks its condition.
func (q *FrameQueue) Wake() {
	notify(q.ready)
	notify(q.space)
}
