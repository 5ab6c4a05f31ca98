package listener

import (
	"sync"

	"github.com/zsprackett/tmux-control/internal/control"
)

// NotificationQueue is the notification lane: a fixed-size ring buffer
// whose Put never blocks and evicts the oldest entry when full.
type NotificationQueue struct {
	mu      sync.Mutex
	items   []control.Notification
	head    int // next read position
	size    int
	dropped uint64
}

// NewNotificationQueue returns a ring holding at most capacity entries.
func NewNotificationQueue(capacity int) *NotificationQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &NotificationQueue{items: make([]control.Notification, capacity)}
}

// Put appends n, evicting the oldest entry if the ring is full. It
// reports whether an entry was evicted.
func (q *NotificationQueue) Put(n control.Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if q.size == len(q.items) {
		q.items[q.head] = nil
		q.head = (q.head + 1) % len(q.items)
		q.size--
		q.dropped++
		evicted = true
	}
	q.items[(q.head+q.size)%len(q.items)] = n
	q.size++
	return evicted
}

// TryTake removes and returns the oldest entry, or ErrEmpty.
func (q *NotificationQueue) TryTake() (control.Notification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil, ErrEmpty
	}
	n := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return n, nil
}

func (q *NotificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *NotificationQueue) Cap() int { return len(q.items) }

// countDrop records an entry evicted outside the ring, such as one a
// forwarder was holding.
func (q *NotificationQueue) countDrop() {
	q.mu.Lock()
	q.dropped++
	q.mu.Unlock()
}

// Dropped returns how many entries have been evicted so far.
func (q *NotificationQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
