package listener_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsprackett/tmux-control/internal/control"
	"github.com/zsprackett/tmux-control/internal/listener"
)

func newPipeListener(t *testing.T, cfg listener.Config) (*listener.Listener, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	return listener.New(r, cfg, discardLogger()), w
}

func write(t *testing.T, w *os.File, s string) {
	t.Helper()
	if _, err := w.WriteString(s); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func takeReply(t *testing.T, l *listener.Listener) *control.Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := l.TakeReply(ctx)
	if err != nil {
		t.Fatalf("take reply: %v", err)
	}
	return r
}

func takeNotification(t *testing.T, l *listener.Listener) control.Notification {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		n, err := l.TryTakeNotification()
		if err == nil {
			return n
		}
		if !errors.Is(err, listener.ErrEmpty) {
			t.Fatalf("take notification: %v", err)
		}
		if err := l.WaitFor(ctx, listener.NotificationLane); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
}

func TestListener_SeparatesLanes(t *testing.T) {
	l, w := newPipeListener(t, listener.Config{})
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Close()

	write(t, w, "%window-add @35\n%begin 1 2 1\nhello\n%end 1 2 1\n%sessions-changed\n")

	r := takeReply(t, l)
	if !r.Success() || string(r.Body) != "hello\n" {
		t.Errorf("reply = %+v", r)
	}
	if n := takeNotification(t, l); n.Header() != "%window-add" {
		t.Errorf("first notification = %s", n.Header())
	}
	if n := takeNotification(t, l); n.Header() != "%sessions-changed" {
		t.Errorf("second notification = %s", n.Header())
	}
	if _, err := l.TryTakeNotification(); !errors.Is(err, listener.ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

func TestListener_ExitStopsWorker(t *testing.T) {
	l, w := newPipeListener(t, listener.Config{})
	l.Start()

	write(t, w, "%exit\n")
	if n := takeNotification(t, l); n.Header() != "%exit" {
		t.Fatalf("notification = %s, want %%exit", n.Header())
	}
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after the exit notification")
	}

	if _, err := l.TryTakeNotification(); !errors.Is(err, listener.ErrTerminated) {
		t.Errorf("err = %v, want ErrTerminated", err)
	}
	if err := l.Close(); !errors.Is(err, listener.ErrRemoteClosed) {
		t.Errorf("close = %v, want ErrRemoteClosed", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second close = %v, want nil", err)
	}
	if _, err := l.TryTakeNotification(); !errors.Is(err, listener.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestListener_RemoteClose(t *testing.T) {
	l, w := newPipeListener(t, listener.Config{})
	l.Start()

	write(t, w, "%begin 1 1 0\n%end 1 1 0\n")
	w.Close()

	takeReply(t, l)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := l.TakeReply(ctx); !errors.Is(err, listener.ErrTerminated) {
		t.Fatalf("err = %v, want ErrTerminated", err)
	}
	if err := l.Close(); !errors.Is(err, listener.ErrRemoteClosed) {
		t.Errorf("close = %v, want ErrRemoteClosed", err)
	}
}

func TestListener_ProtocolError(t *testing.T) {
	l, w := newPipeListener(t, listener.Config{})
	l.Start()

	write(t, w, "%no-such-thing 1\n")
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	err := l.Close()
	var perr *control.ProtocolError
	if !errors.As(err, &perr) || !errors.Is(err, control.ErrProtocol) {
		t.Fatalf("close = %v, want a protocol error", err)
	}
}

func TestListener_Lifecycle(t *testing.T) {
	l, _ := newPipeListener(t, listener.Config{})
	if l.State() != listener.Idle {
		t.Fatalf("state = %v, want idle", l.State())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close before start = %v", err)
	}
	if l.State() != listener.Idle {
		t.Fatalf("close before start changed state to %v", l.State())
	}

	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if l.State() != listener.Running {
		t.Fatalf("state = %v, want running", l.State())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close = %v", err)
	}
	if l.State() != listener.Closed {
		t.Fatalf("state = %v, want closed", l.State())
	}
	if err := l.Start(); !errors.Is(err, listener.ErrClosed) {
		t.Fatalf("start after close = %v, want ErrClosed", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := l.TakeReply(ctx); !errors.Is(err, listener.ErrClosed) {
		t.Fatalf("take after close = %v, want ErrClosed", err)
	}
}

func TestListener_WaitWakesOnShutdown(t *testing.T) {
	l, w := newPipeListener(t, listener.Config{})
	l.Start()

	errc := make(chan error, 1)
	go func() { errc <- l.Wait(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	w.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, listener.ErrTerminated) && !errors.Is(err, listener.ErrClosed) {
			t.Fatalf("wait = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait was not woken")
	}
	l.Close()
}

func TestListener_ReplyBackpressure(t *testing.T) {
	l, w := newPipeListener(t, listener.Config{ReplyCapacity: 1, NotificationCapacity: 2})
	l.Start()
	defer l.Close()

	write(t, w, "%begin 1 1 0\n%end 1 1 0\n%begin 1 2 0\n%end 1 2 0\n%window-add @1\n")

	// The worker is parked on the second reply, so the notification
	// behind it has not been decoded yet.
	time.Sleep(50 * time.Millisecond)
	if n := l.Notifications().Len(); n != 0 {
		t.Fatalf("notifications = %d, want 0 while the reply lane is full", n)
	}

	if r := takeReply(t, l); r.Begin.Number != 1 {
		t.Fatalf("first reply = %d", r.Begin.Number)
	}
	if r := takeReply(t, l); r.Begin.Number != 2 {
		t.Fatalf("second reply = %d", r.Begin.Number)
	}
	if n := takeNotification(t, l); n.Header() != "%window-add" {
		t.Fatalf("notification = %s", n.Header())
	}
}

func TestListener_NotificationLaneDropsOldest(t *testing.T) {
	l, w := newPipeListener(t, listener.Config{NotificationCapacity: 2})
	l.Start()
	defer l.Close()

	write(t, w, "%window-add @1\n%window-add @2\n%window-add @3\n%begin 1 1 0\n%end 1 1 0\n")
	takeReply(t, l)

	var got []control.WindowID
	for {
		n, err := l.TryTakeNotification()
		if err != nil {
			break
		}
		got = append(got, n.(*control.WindowAdd).Window)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("notifications = %v, want [@2 @3]", got)
	}
	if l.Notifications().Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", l.Notifications().Dropped())
	}
}

func TestListener_CloseUnblocksWorkerOnFullLane(t *testing.T) {
	l, w := newPipeListener(t, listener.Config{ReplyCapacity: 1})
	l.Start()

	write(t, w, "%begin 1 1 0\n%end 1 1 0\n%begin 1 2 0\n%end 1 2 0\n")
	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- l.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close hung on a full reply lane")
	}
}

func TestListener_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := listener.NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	l, w := newPipeListener(t, listener.Config{Metrics: m, NotificationCapacity: 1})
	l.Start()

	payload := "%window-add @1\n%window-add @2\n%begin 1 1 0\n%end 1 1 0\n"
	write(t, w, payload)
	takeReply(t, l)
	l.Close()

	if got := testutil.ToFloat64(m.Dropped()); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesRead()); got != float64(len(payload)) {
		t.Errorf("bytes read = %v, want %d", got, len(payload))
	}
}

func TestListener_ConcurrentCloseWaitsForWorker(t *testing.T) {
	l, _ := newPipeListener(t, listener.Config{PollInterval: 500 * time.Millisecond})
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	first := make(chan error, 1)
	go func() { first <- l.Close() }()
	time.Sleep(20 * time.Millisecond)

	l.Close()
	if l.State() != listener.Closed {
		t.Errorf("state after second close = %v, want closed", l.State())
	}
	select {
	case <-l.Done():
	default:
		t.Error("second close returned before the worker stopped")
	}
	if err := <-first; err != nil {
		t.Errorf("first close = %v", err)
	}
}

func TestListener_StoppedWorker(t *testing.T) {
	l, w := newPipeListener(t, listener.Config{})
	l.Start()

	write(t, w, "%window-add @1\n%exit\n")
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after the exit notification")
	}

	if l.State() != listener.Stopped {
		t.Errorf("state = %v, want stopped", l.State())
	}
	if err := l.Start(); !errors.Is(err, listener.ErrTerminated) {
		t.Errorf("start on stopped worker = %v, want ErrTerminated", err)
	}

	// Notifications queued before the worker stopped are still delivered.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitFor(ctx, listener.NotificationLane); err != nil {
		t.Fatalf("wait with queued notifications = %v", err)
	}
	for _, want := range []string{"%window-add", "%exit"} {
		n, err := l.TryTakeNotification()
		if err != nil {
			t.Fatalf("take %s: %v", want, err)
		}
		if n.Header() != want {
			t.Errorf("got %s, want %s", n.Header(), want)
		}
	}
	if _, err := l.TryTakeNotification(); !errors.Is(err, listener.ErrTerminated) {
		t.Errorf("drained lane = %v, want ErrTerminated", err)
	}
	if err := l.WaitFor(ctx, listener.NotificationLane); !errors.Is(err, listener.ErrTerminated) {
		t.Errorf("wait on drained lane = %v, want ErrTerminated", err)
	}

	l.Close()
	if l.State() != listener.Closed {
		t.Errorf("state after close = %v, want closed", l.State())
	}
}
