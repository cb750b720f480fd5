package event

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push and Pop once the queue is closed.
var ErrClosed = errors.New("event queue closed")

// Queue is a bounded FIFO with many producers and a single consumer.
// Producers block while the queue is full; the consumer blocks while it is
// empty. Requeue lets the consumer put an event back without blocking on
// itself.
type Queue struct {
	mu          sync.Mutex
	items       []Event
	capacity    int
	closed      bool
	assignments map[string]int

	notEmpty chan struct{}
	notFull  chan struct{}
}

// NewQueue creates a queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{
		capacity:    capacity,
		assignments: make(map[string]int),
		notEmpty:    make(chan struct{}, 1),
		notFull:     make(chan struct{}, 1),
	}
}

// Push appends ev, blocking while the queue is full.
func (q *Queue) Push(ctx context.Context, ev Event) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			signal(q.notFull)
			return ErrClosed
		}
		if len(q.items) < q.capacity {
			q.appendLocked(ev)
			room := len(q.items) < q.capacity
			q.mu.Unlock()

			signal(q.notEmpty)
			if room {
				// pass the wakeup on to any other blocked producer
				signal(q.notFull)
			}
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.notFull:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Requeue appends ev at the tail regardless of capacity. It must only be
// called by the consumer.
func (q *Queue) Requeue(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.appendLocked(ev)
	q.mu.Unlock()
	signal(q.notEmpty)
}

// Pop removes the oldest event, blocking while the queue is empty. Events
// still queued when the queue is closed are drained before ErrClosed.
func (q *Queue) Pop(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			if ev.IsAssignment() {
				q.assignments[ev.AgentID]--
				if q.assignments[ev.AgentID] <= 0 {
					delete(q.assignments, ev.AgentID)
				}
			}
			q.mu.Unlock()
			signal(q.notFull)
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-q.notEmpty:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// PendingAssignments returns how many issue-tracker assignment events for
// agentID are queued but not yet dequeued.
func (q *Queue) PendingAssignments(agentID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.assignments[agentID]
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all waiters. Further pushes fail.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	signal(q.notEmpty)
	signal(q.notFull)
}

func (q *Queue) appendLocked(ev Event) {
	q.items = append(q.items, ev)
	if ev.IsAssignment() {
		q.assignments[ev.AgentID]++
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
