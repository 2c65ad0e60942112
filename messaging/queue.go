package messaging

import (
	"errors"
	"fmt"

	"github.com/opd-ai/simsync/interfaces"
)

// ErrQueueFull is returned by Push when the queue is at capacity.
var ErrQueueFull = errors.New("outbound queue full")

// Queue is a FIFO of outbound messages with an optional capacity bound.
// It implements interfaces.MessageQueue and is not safe for concurrent use.
type Queue struct {
	items    []interfaces.Outbound
	head     int
	capacity int
}

var _ interfaces.MessageQueue = (*Queue)(nil)

// NewQueue creates a queue holding at most capacity messages. A capacity of
// zero means unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// Push appends out to the tail.
func (q *Queue) Push(out interfaces.Outbound) error {
	if q.capacity > 0 && q.Len() >= q.capacity {
		return fmt.Errorf("%w: capacity %d", ErrQueueFull, q.capacity)
	}
	q.items = append(q.items, out)
	return nil
}

// PushFront returns out to the head. It bypasses the capacity bound because
// the message was already admitted once.
func (q *Queue) PushFront(out interfaces.Outbound) {
	if q.head > 0 {
		q.head--
		q.items[q.head] = out
		return
	}
	q.items = append(q.items, interfaces.Outbound{})
	copy(q.items[1:], q.items)
	q.items[0] = out
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (interfaces.Outbound, bool) {
	if q.head >= len(q.items) {
		return interfaces.Outbound{}, false
	}
	out := q.items[q.head]
	q.items[q.head] = interfaces.Outbound{}
	q.head++

	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return out, true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.items) - q.head
}

// Clear drops every queued message.
func (q *Queue) Clear() {
	q.items = nil
	q.head = 0
}

// Remove drops every message for which match returns true.
func (q *Queue) Remove(match func(interfaces.Outbound) bool) int {
	kept := q.items[:0]
	removed := 0
	for _, out := range q.items[q.head:] {
		if match(out) {
			removed++
			continue
		}
		kept = append(kept, out)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = interfaces.Outbound{}
	}
	q.items = kept
	q.head = 0
	return removed
}
