package telemetry

import "sync"

// queue is an unbounded FIFO of events guarded by a mutex.
type queue struct {
	mu     sync.Mutex
	events []*Event
}

// push appends e and returns the new length.
func (q *queue) push(e *Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
	return len(q.events)
}

// drain removes and returns up to n of the oldest events.
func (q *queue) drain(n int) []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.events) == 0 {
		return nil
	}
	n = min(n, len(q.events))
	batch := make([]*Event, n)
	copy(batch, q.events[:n])
	rest := make([]*Event, len(q.events)-n)
	copy(rest, q.events[n:])
	q.events = rest
	return batch
}

// requeueFront puts batch back at the head of the queue, preserving order.
func (q *queue) requeueFront(batch []*Event) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]*Event, 0, len(batch)+len(q.events))
	merged = append(merged, batch...)
	merged = append(merged, q.events...)
	q.events = merged
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
