package notify_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zsprackett/tmux-control/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNtfyNotification(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	n := notify.New(notify.Config{
		Enabled: true,
		NtfyURL: srv.URL + "/test-topic",
	}, discardLogger())

	n.Notify(notify.Notice{Kind: "exit", Target: "work", Detail: "server exited"})

	if received == nil {
		t.Fatal("no POST received")
	}
	if received["title"] != "work: control client exit" {
		t.Errorf("unexpected title: %v", received["title"])
	}
	if received["priority"] != float64(4) {
		t.Errorf("exit should be high priority: %v", received["priority"])
	}
}

func TestWebhookPayload(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type: %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&received)
	}))
	defer srv.Close()

	n := notify.New(notify.Config{Enabled: true, Webhook: srv.URL}, discardLogger())
	n.Notify(notify.Notice{Kind: "detached", Target: "work", Detail: "/dev/pts/3", RunID: "r1"})

	if received["event"] != "detached" || received["detail"] != "/dev/pts/3" || received["run_id"] != "r1" {
		t.Errorf("payload: %v", received)
	}
}

func TestNotify_WebhookErrorLogged(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Invalid URL forces a POST error.
	n := notify.New(notify.Config{Enabled: true, Webhook: "http://127.0.0.1:1"}, logger)
	n.Notify(notify.Notice{Kind: "exit", Target: "test"})

	if !strings.Contains(buf.String(), "webhook") {
		t.Errorf("expected warn log mentioning webhook, got: %q", buf.String())
	}
}

func TestNotify_BadStatusLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	n := notify.New(notify.Config{Enabled: true, NtfyURL: srv.URL}, logger)
	n.Notify(notify.Notice{Kind: "detached", Target: "test"})

	if !strings.Contains(buf.String(), "ntfy") || !strings.Contains(buf.String(), "500") {
		t.Errorf("expected warn log for ntfy status, got: %q", buf.String())
	}
}

func TestNotify_DisabledNoOp(t *testing.T) {
	n := notify.New(notify.Config{Enabled: false}, discardLogger())
	// Must not panic.
	n.Notify(notify.Notice{Kind: "exit", Target: "test"})

	var nilNotifier *notify.Notifier
	nilNotifier.Notify(notify.Notice{})
}
