package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsprackett/tmux-control/internal/control"
)

// PipeBuf matches the POSIX PIPE_BUF most platforms use.
const PipeBuf = 4096

// Config sizes the two lanes and the worker's read loop.
type Config struct {
	ReplyCapacity        int
	NotificationCapacity int
	PollInterval         time.Duration
	ReadSize             int
	Metrics              *Metrics
}

// DefaultConfig returns ten slots per lane, a 50ms poll fallback and
// PIPE_BUF-sized reads.
func DefaultConfig() Config {
	return Config{
		ReplyCapacity:        10,
		NotificationCapacity: 10,
		PollInterval:         50 * time.Millisecond,
		ReadSize:             PipeBuf,
	}
}

// State is the listener lifecycle: Idle -> Running -> Closed. A worker
// that ends on its own (remote close, %exit, protocol error) moves the
// listener to Stopped until Close is called.
type State int

const (
	Idle State = iota
	Running
	Stopped
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Lane selects which queues Wait watches.
type Lane int

const (
	ReplyLane Lane = 1 << iota
	NotificationLane
	AnyLane = ReplyLane | NotificationLane
)

// Listener owns the background reader of one control pipe and splits the
// decoded events into a reply lane, which blocks the reader when full,
// and a notification lane, which evicts its oldest entry instead.
type Listener struct {
	src     Source
	cfg     Config
	replies *ReplyQueue
	notes   *NotificationQueue
	wake    *signal
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	closing bool
	stop    chan struct{}
	done    chan struct{}
	closed  chan struct{} // closed when the first Close has finished
	result  chan error
}

// New returns an idle listener for src. Zero values in cfg fall back to
// DefaultConfig.
func New(src Source, cfg Config, logger *slog.Logger) *Listener {
	def := DefaultConfig()
	if cfg.ReplyCapacity <= 0 {
		cfg.ReplyCapacity = def.ReplyCapacity
	}
	if cfg.NotificationCapacity <= 0 {
		cfg.NotificationCapacity = def.NotificationCapacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = def.ReadSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		src:     src,
		cfg:     cfg,
		replies: NewReplyQueue(cfg.ReplyCapacity),
		notes:   NewNotificationQueue(cfg.NotificationCapacity),
		wake:    newSignal(),
		logger:  logger,
	}
}

// Start launches the worker. It is a no-op while running, fails with
// ErrTerminated once the worker has stopped on its own and with ErrClosed
// once the listener has been closed.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closing || l.state == Closed {
		return ErrClosed
	}
	if l.state == Running {
		if isClosed(l.done) {
			return ErrTerminated
		}
		return nil
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.closed = make(chan struct{})
	l.result = make(chan error, 1)
	l.state = Running
	go l.run(l.stop, l.done, l.result)
	l.logger.Debug("listener: started", "fd", l.src.Fd())
	return nil
}

// Close stops the worker, waits for it and returns the error it ended
// with, if any. The worker's error is reported by the first Close only;
// concurrent and later calls wait for that Close to finish and return
// nil. Closing a listener that was never started does nothing.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.state != Running || l.closing {
		closed := l.closed
		l.mu.Unlock()
		if closed != nil {
			<-closed
		}
		return nil
	}
	l.closing = true
	stop, done, result, closed := l.stop, l.done, l.result, l.closed
	l.mu.Unlock()

	close(stop)
	<-done
	err := <-result

	l.mu.Lock()
	l.state = Closed
	l.closing = false
	l.mu.Unlock()
	close(closed)
	l.wake.Broadcast()
	return err
}

// State returns the lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Running && isClosed(l.done) {
		return Stopped
	}
	return l.state
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Done is closed when the worker has stopped. It is nil before Start.
func (l *Listener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Replies and Notifications expose the lanes for inspection.
func (l *Listener) Replies() *ReplyQueue             { return l.replies }
func (l *Listener) Notifications() *NotificationQueue { return l.notes }

// TakeReply blocks until a reply is available. Replies queued before
// the worker stopped remain available; after that it returns
// ErrTerminated, or ErrClosed once Close has completed.
func (l *Listener) TakeReply(ctx context.Context) (*control.Reply, error) {
	r, err := l.replies.Take(ctx, l.Done())
	if err == ErrTerminated {
		return nil, l.terminalErr()
	}
	return r, err
}

// TryTakeNotification returns the oldest buffered notification without
// blocking, or ErrEmpty. Once the worker has stopped and the lane is
// drained it returns ErrTerminated, or ErrClosed after Close.
func (l *Listener) TryTakeNotification() (control.Notification, error) {
	n, err := l.notes.TryTake()
	if err == ErrEmpty && l.stopped() {
		// The worker may have queued its last notification between the
		// take and the check.
		if n, err = l.notes.TryTake(); err == nil {
			return n, nil
		}
		return nil, l.terminalErr()
	}
	return n, err
}

// Wait blocks until either lane holds an item or ctx ends.
func (l *Listener) Wait(ctx context.Context) error {
	return l.WaitFor(ctx, AnyLane)
}

// WaitFor blocks until one of the selected lanes holds an item or ctx
// ends. When the worker has stopped and the selected lanes are empty it
// returns ErrTerminated (ErrClosed after Close).
func (l *Listener) WaitFor(ctx context.Context, lanes Lane) error {
	for {
		ch := l.wake.C()
		if lanes&ReplyLane != 0 && l.replies.Len() > 0 {
			return nil
		}
		if lanes&NotificationLane != 0 && l.notes.Len() > 0 {
			return nil
		}
		if l.stopped() {
			if lanes&ReplyLane != 0 && l.replies.Len() > 0 ||
				lanes&NotificationLane != 0 && l.notes.Len() > 0 {
				return nil
			}
			return l.terminalErr()
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Listener) stopped() bool {
	done := l.Done()
	return done != nil && isClosed(done)
}

func (l *Listener) terminalErr() error {
	if l.State() == Closed {
		return ErrClosed
	}
	return ErrTerminated
}

func (l *Listener) run(stop, done chan struct{}, result chan<- error) {
	err := l.loop(stop)
	if err != nil {
		l.logger.Warn("listener: stopped", "err", err)
	} else {
		l.logger.Debug("listener: stopped")
	}
	result <- err
	close(done)
	l.wake.Broadcast()
}

func (l *Listener) loop(stop <-chan struct{}) error {
	fd := int(l.src.Fd())
	reader := control.NewStreamReader(l.logger)
	buf := make([]byte, l.cfg.ReadSize)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		ready, err := waitReadable(fd, l.cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if !ready {
			continue
		}
		n, err := readSome(fd, buf)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if n < 0 {
			continue
		}
		if n == 0 {
			return ErrRemoteClosed
		}
		l.cfg.Metrics.recordRead(n)

		for ev, err := range reader.Feed(buf[:n]) {
			if err != nil {
				return err
			}
			delivered, err := l.dispatch(stop, ev)
			if err != nil || !delivered {
				return err
			}
		}
	}
}

// dispatch routes one event to its lane. It returns delivered=false with
// a nil error when stop closed while the reply lane was full.
func (l *Listener) dispatch(stop <-chan struct{}, ev control.Event) (bool, error) {
	switch e := ev.(type) {
	case *control.Reply:
		if !l.replies.Put(stop, e) {
			return false, nil
		}
		l.cfg.Metrics.recordReply(l.replies.Len())
	case control.Notification:
		evicted := l.notes.Put(e)
		if evicted {
			l.logger.Debug("listener: notification lane full, dropped oldest")
		}
		l.cfg.Metrics.recordNotification(l.notes.Len(), evicted)
	default:
		return false, fmt.Errorf("listener: unexpected event %T", ev)
	}
	l.wake.Broadcast()

	if _, ok := ev.(*control.Exit); ok {
		return false, errRemoteExited
	}
	return true, nil
}
