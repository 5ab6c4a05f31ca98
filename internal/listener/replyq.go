package listener

import (
	"context"

	"github.com/zsprackett/tmux-control/internal/control"
)

// ReplyQueue is the reply lane: bounded, strict FIFO, and never drops.
// Put blocks while the queue is full.
type ReplyQueue struct {
	ch chan *control.Reply
}

// NewReplyQueue returns a queue holding at most capacity replies.
func NewReplyQueue(capacity int) *ReplyQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReplyQueue{ch: make(chan *control.Reply, capacity)}
}

// Put blocks until r is queued or stop is closed. It reports whether r
// was queued.
func (q *ReplyQueue) Put(stop <-chan struct{}, r *control.Reply) bool {
	select {
	case q.ch <- r:
		return true
	case <-stop:
		return false
	}
}

// Take blocks until a reply is available, ctx ends, or done is closed.
// Replies queued before done closed are still returned; after that Take
// returns ErrTerminated.
func (q *ReplyQueue) Take(ctx context.Context, done <-chan struct{}) (*control.Reply, error) {
	select {
	case r := <-q.ch:
		return r, nil
	default:
	}
	select {
	case r := <-q.ch:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		if r, ok := q.TryTake(); ok {
			return r, nil
		}
		return nil, ErrTerminated
	}
}

// TryTake returns the oldest reply without blocking.
func (q *ReplyQueue) TryTake() (*control.Reply, bool) {
	select {
	case r := <-q.ch:
		return r, true
	default:
		return nil, false
	}
}

func (q *ReplyQueue) Len() int { return len(q.ch) }
func (q *ReplyQueue) Cap() int { return cap(q.ch) }
