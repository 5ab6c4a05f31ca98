package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsprackett/tmux-control/internal/control"
)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Stream is the channel-based form of the distributor for callers that
// already run their own goroutines. Run reads in the caller's goroutine,
// sends replies into a bounded channel (blocking when full) and hands
// notifications to a forwarder that evicts the oldest entry when the
// consumer falls behind.
type Stream struct {
	cfg    Config
	logger *slog.Logger

	replies chan *control.Reply
	notes   chan control.Notification
	ring    *NotificationQueue
	kick    chan struct{}

	started atomic.Bool
	mu      sync.Mutex
	err     error
}

// NewStream returns a stream sized by cfg. Zero values fall back to
// DefaultConfig.
func NewStream(cfg Config, logger *slog.Logger) *Stream {
	def := DefaultConfig()
	if cfg.ReplyCapacity <= 0 {
		cfg.ReplyCapacity = def.ReplyCapacity
	}
	if cfg.NotificationCapacity <= 0 {
		cfg.NotificationCapacity = def.NotificationCapacity
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = def.ReadSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		cfg:     cfg,
		logger:  logger,
		replies: make(chan *control.Reply, cfg.ReplyCapacity),
		notes:   make(chan control.Notification),
		ring:    NewNotificationQueue(cfg.NotificationCapacity),
		kick:    make(chan struct{}, 1),
	}
}

// Replies is closed when Run returns.
func (s *Stream) Replies() <-chan *control.Reply { return s.replies }

// Notifications is closed once Run has returned and every buffered
// notification has been delivered, or when ctx ends.
func (s *Stream) Notifications() <-chan control.Notification { return s.notes }

// Err returns the error Run ended with.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run consumes r until it is exhausted, a protocol error occurs, tmux
// sends %exit, or ctx ends. A Stream runs once; later calls return
// ErrAlreadyRunning. If r has SetReadDeadline, ctx cancellation also
// interrupts a blocked read.
func (s *Stream) Run(ctx context.Context, r io.Reader) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if d, ok := r.(readDeadliner); ok {
		stop := context.AfterFunc(ctx, func() {
			_ = d.SetReadDeadline(time.Now())
		})
		defer stop()
	}

	readDone := make(chan struct{})
	go s.forward(ctx, readDone)

	err := s.read(ctx, r)
	close(s.replies)
	close(readDone)

	if err != nil {
		s.logger.Debug("stream: stopped", "err", err)
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err
}

func (s *Stream) read(ctx context.Context, r io.Reader) error {
	reader := control.NewStreamReader(s.logger)
	buf := make([]byte, s.cfg.ReadSize)

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			s.cfg.Metrics.recordRead(n)
			for ev, err := range reader.Feed(buf[:n]) {
				if err != nil {
					return err
				}
				if err := s.dispatch(ctx, ev); err != nil {
					return err
				}
			}
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(rerr, io.EOF) {
				return ErrRemoteClosed
			}
			return fmt.Errorf("read: %w", rerr)
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, ev control.Event) error {
	switch e := ev.(type) {
	case *control.Reply:
		select {
		case s.replies <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.cfg.Metrics.recordReply(len(s.replies))
	case control.Notification:
		evicted := s.ring.Put(e)
		s.cfg.Metrics.recordNotification(s.ring.Len(), evicted)
		select {
		case s.kick <- struct{}{}:
		default:
		}
		if _, ok := e.(*control.Exit); ok {
			return errRemoteExited
		}
	default:
		return fmt.Errorf("stream: unexpected event %T", ev)
	}
	return nil
}

// forward moves notifications from the ring to the unbuffered channel.
// The notification it holds while waiting for the consumer counts
// against the lane capacity: when the ring fills behind it, the held
// entry is the oldest and is the one dropped.
func (s *Stream) forward(ctx context.Context, readDone <-chan struct{}) {
	defer close(s.notes)

	var held control.Notification
	finished := false
	for {
		if held == nil {
			n, err := s.ring.TryTake()
			if err != nil {
				if finished {
					return
				}
				select {
				case <-s.kick:
				case <-readDone:
					finished, readDone = true, nil
				case <-ctx.Done():
					return
				}
				continue
			}
			held = n
		}

		select {
		case <-s.kick:
			s.trimHeld(&held)
			continue
		default:
		}
		select {
		case s.notes <- held:
			held = nil
		case <-s.kick:
			s.trimHeld(&held)
		case <-readDone:
			finished, readDone = true, nil
		case <-ctx.Done():
			return
		}
	}
}

// trimHeld drops the held notification if it no longer fits in the lane.
func (s *Stream) trimHeld(held *control.Notification) {
	if s.ring.Len()+1 <= s.ring.Cap() {
		return
	}
	*held = nil
	s.ring.countDrop()
	s.cfg.Metrics.recordDrop()
}
