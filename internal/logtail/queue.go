package logtail

import "sync/atomic"

// DefaultQueueCapacity bounds how many undrained events are held in memory.
const DefaultQueueCapacity = 500

// Queue is a bounded FIFO between the tailer goroutine and the poll path.
// Push never blocks: when the queue is full the new event is dropped.
type Queue struct {
	ch      chan Event
	dropped atomic.Uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// Push enqueues ev and reports whether it was accepted.
func (q *Queue) Push(ev Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Drain returns every queued event in arrival order without waiting for more.
func (q *Queue) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-q.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Dropped is the number of events rejected because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
