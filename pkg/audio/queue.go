package audio

import (
	"sync"
	"sync/atomic"
)

// FrameQueue buffers frames between the capture side and the recognizer
// adapter. It has exactly one producer and one consumer. Push never blocks:
// when the buffer is full the oldest queued frame is discarded so the newest
// audio always reaches the recognizer.
type FrameQueue struct {
	ch chan AudioFrame

	mu     sync.Mutex // serialises Push against Close
	closed bool

	dropped atomic.Int64
	onDrop  func()
}

// QueueOption configures a FrameQueue.
type QueueOption func(*FrameQueue)

// WithDropHook registers fn to run every time a frame is discarded.
func WithDropHook(fn func()) QueueOption {
	return func(q *FrameQueue) { q.onDrop = fn }
}

// NewFrameQueue returns a queue holding at most capacity frames. A capacity
// below 1 is raised to 1.
func NewFrameQueue(capacity int, opts ...QueueOption) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &FrameQueue{ch: make(chan AudioFrame, capacity)}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push enqueues f. It returns false if the queue is already closed.
func (q *FrameQueue) Push(f AudioFrame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	for {
		select {
		case q.ch <- f:
			return true
		default:
		}
		select {
		case <-q.ch:
			q.drop()
		default:
		}
	}
}

func (q *FrameQueue) drop() {
	q.dropped.Add(1)
	if q.onDrop != nil {
		q.onDrop()
	}
}

// Frames returns the consumer side. The channel is closed by Close once all
// queued frames have been read.
func (q *FrameQueue) Frames() <-chan AudioFrame {
	return q.ch
}

// Close stops accepting frames. Already queued frames remain readable.
// Calling Close more than once is safe.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the number of frames currently buffered.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Dropped returns how many frames were discarded because the queue was full.
func (q *FrameQueue) Dropped() int64 { return q.dropped.Load() }
