package monitor_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/zsprackett/tmux-control/internal/control"
	"github.com/zsprackett/tmux-control/internal/db"
	"github.com/zsprackett/tmux-control/internal/events"
	"github.com/zsprackett/tmux-control/internal/listener"
	"github.com/zsprackett/tmux-control/internal/monitor"
	"github.com/zsprackett/tmux-control/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureBroadcaster) Broadcast(e events.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureBroadcaster) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

func startListener(t *testing.T) (*listener.Listener, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	lst := listener.New(r, listener.Config{PollInterval: 10 * time.Millisecond}, discardLogger())
	if err := lst.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lst.Close() })
	return lst, w
}

func waitDone(t *testing.T, m *monitor.Monitor) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not finish")
	}
}

func TestMonitorJournalsAndBroadcasts(t *testing.T) {
	store, _ := db.Open(":memory:")
	store.Migrate()
	defer store.Close()
	run, _ := store.StartRun([]string{"attach-session", "-t", "work"})

	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	lst, w := startListener(t)
	broadcaster := &captureBroadcaster{}
	var seen []string
	mon := monitor.New(lst, monitor.Options{
		RunID:       run.ID,
		Target:      "work",
		OwnReplies:  true,
		Store:       store,
		Notifier:    notify.New(notify.Config{Enabled: true, Webhook: srv.URL}, discardLogger()),
		Broadcaster: broadcaster,
		OnEvent:     func(ev control.Event) { seen = append(seen, ev.Header()) },
	}, discardLogger())
	mon.Start()

	w.WriteString("%begin 1 1 0\n%end 1 1 0\n%window-add @3\n%output %1 hi\n%client-detached /dev/pts/2\n%exit\n")
	waitDone(t, mon)

	if len(seen) != 5 {
		t.Fatalf("consumed %v, want 5 events", seen)
	}
	if got := len(broadcaster.snapshot()); got != 5 {
		t.Errorf("broadcast %d events, want 5", got)
	}

	journal, err := store.RecentEvents(run.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(journal) != 4 {
		t.Errorf("journaled %d events, want 4 (output skipped)", len(journal))
	}
	for _, e := range journal {
		if e.Header == "%output" {
			t.Error("output should not be journaled by default")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 2 {
		t.Errorf("webhook hits = %d, want 2 (detach + exit)", hits)
	}
	if c := mon.Counts(); c["%window-add"] != 1 || c["%begin"] != 1 {
		t.Errorf("counts: %v", c)
	}
}

func TestMonitorLeavesRepliesAlone(t *testing.T) {
	lst, w := startListener(t)
	mon := monitor.New(lst, monitor.Options{}, discardLogger())
	mon.Start()
	defer mon.Stop()

	w.WriteString("%begin 1 1 0\n%end 1 1 0\n%sessions-changed\n")

	deadline := time.Now().Add(2 * time.Second)
	for mon.Counts()["%sessions-changed"] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notification not consumed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if lst.Replies().Len() != 1 {
		t.Errorf("reply lane = %d, want the reply left for its owner", lst.Replies().Len())
	}
}

func TestMonitorStop(t *testing.T) {
	lst, _ := startListener(t)
	mon := monitor.New(lst, monitor.Options{}, discardLogger())
	mon.Start()
	mon.Stop()
	waitDone(t, mon)
	if mon.Err() != nil {
		t.Errorf("err after stop = %v", mon.Err())
	}
}

func TestMonitorReportsTermination(t *testing.T) {
	lst, w := startListener(t)
	mon := monitor.New(lst, monitor.Options{}, discardLogger())
	mon.Start()
	w.Close()
	waitDone(t, mon)
	if mon.Err() == nil {
		t.Error("expected the listener's termination error")
	}
}
