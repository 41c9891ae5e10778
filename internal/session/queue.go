package session

import "sync"

// Queue is the hand-off between the pumps and the supervisor loop. Push
// never blocks; Drain takes everything queued without waiting.
type Queue struct {
	mu     sync.Mutex
	items  []OutputEvent
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends an event and wakes a waiter, if any.
func (q *Queue) Push(event OutputEvent) {
	q.mu.Lock()
	q.items = append(q.items, event)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns all queued events in arrival order.
func (q *Queue) Drain() []OutputEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Ready is signalled after a push. A receive does not guarantee the queue
// is non-empty; callers should Drain and check.
func (q *Queue) Ready() <-chan struct{} {
	return q.notify
}
