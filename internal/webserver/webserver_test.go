package webserver_test

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/zsprackett/tmux-control/internal/control"
	"github.com/zsprackett/tmux-control/internal/db"
	"github.com/zsprackett/tmux-control/internal/events"
	"github.com/zsprackett/tmux-control/internal/tmux"
	"github.com/zsprackett/tmux-control/internal/webserver"
)

// fakeControl answers every command with a reply echoing it, and
// commands starting with "bad" with a %error reply.
type fakeControl struct{}

func (fakeControl) Exec(ctx context.Context, command string) (*control.Reply, error) {
	if err := tmux.CheckCommand(command); err != nil {
		return nil, err
	}
	r := &control.Reply{
		Begin: control.BlockMark{Token: control.HeaderBegin, Number: 7},
		Body:  []byte(command + "\n"),
		End:   control.BlockMark{Token: control.HeaderEnd, Number: 7},
	}
	if strings.HasPrefix(command, "bad") {
		r.End.Token = control.HeaderError
		return r, &tmux.CommandError{Command: command, Reply: r}
	}
	return r, nil
}

func (fakeControl) Stats() (tmux.ProcStats, error) {
	return tmux.ProcStats{PID: 42}, nil
}

func openStore(t *testing.T) *db.DB {
	t.Helper()
	store, _ := db.Open(":memory:")
	store.Migrate()
	t.Cleanup(func() { store.Close() })
	return store
}

func newAuthServer(t *testing.T) (*webserver.Server, *db.DB) {
	t.Helper()
	store := openStore(t)
	srv := webserver.New(store, fakeControl{}, webserver.Config{
		Port:    0,
		Host:    "127.0.0.1",
		Enabled: true,
		Auth: webserver.AuthConfig{
			JWTSecret:       "test-secret",
			RefreshTokenTTL: "168h",
		},
	}, nil)
	// seed an account
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	store.CreateAccount("alice", string(hash))
	return srv, store
}

func login(t *testing.T, srv *webserver.Server) map[string]string {
	t.Helper()
	body := `{"username":"alice","password":"password"}`
	req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	return resp
}

func TestLoginEndpoint(t *testing.T) {
	srv, _ := newAuthServer(t)
	resp := login(t, srv)
	if resp["access_token"] == "" {
		t.Error("expected access_token in response")
	}
	if resp["refresh_token"] == "" {
		t.Error("expected refresh_token in response")
	}
}

func TestLoginEndpoint_WrongPassword(t *testing.T) {
	srv, _ := newAuthServer(t)
	body := `{"username":"alice","password":"wrong"}`
	req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != 401 {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	srv, store := newAuthServer(t)
	loginResp := login(t, srv)

	body := fmt.Sprintf(`{"refresh_token":"%s"}`, loginResp["refresh_token"])
	req := httptest.NewRequest("POST", "/api/auth/refresh", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["access_token"] == "" {
		t.Error("expected new access_token")
	}
	// Old refresh token should be gone (rotation)
	_, err := store.GetRefreshToken(loginResp["refresh_token"])
	if err == nil {
		t.Error("old refresh token should be deleted after rotation")
	}
}

func TestLogoutEndpoint(t *testing.T) {
	srv, store := newAuthServer(t)
	loginResp := login(t, srv)

	body := fmt.Sprintf(`{"refresh_token":"%s"}`, loginResp["refresh_token"])
	req := httptest.NewRequest("POST", "/api/auth/logout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != 204 {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	_, err := store.GetRefreshToken(loginResp["refresh_token"])
	if err == nil {
		t.Error("refresh token should be deleted after logout")
	}
}

func TestEventsEndpoint(t *testing.T) {
	store := openStore(t)
	run, _ := store.StartRun([]string{"new-session", "-s", "x"})
	store.InsertEvent(&db.Event{RunID: run.ID, Lane: "notification", Header: "%window-add", Payload: `{"type":"window-add"}`})

	srv := webserver.New(store, nil, webserver.Config{}, nil)
	req := httptest.NewRequest("GET", "/api/events?limit=5", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var result struct {
		RunID  string     `json:"run_id"`
		Events []db.Event `json:"events"`
	}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.RunID != run.ID || len(result.Events) != 1 || result.Events[0].Header != "%window-add" {
		t.Errorf("unexpected response: %+v", result)
	}

	req = httptest.NewRequest("GET", "/api/runs", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), run.ID) {
		t.Errorf("runs listing misses %s: %s", run.ID, w.Body.String())
	}
}

func postCommand(t *testing.T, h http.Handler, command string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"command": command})
	req := httptest.NewRequest("POST", "/api/command", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCommandEndpoint(t *testing.T) {
	h := webserver.New(openStore(t), fakeControl{}, webserver.Config{}, nil).Handler()

	w := postCommand(t, h, "list-windows")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool     `json:"success"`
		Output  []string `json:"output"`
		Number  int64    `json:"number"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Success || len(resp.Output) != 1 || resp.Output[0] != "list-windows" || resp.Number != 7 {
		t.Errorf("unexpected response: %+v", resp)
	}

	w = postCommand(t, h, "bad-command")
	if w.Code != 200 || !strings.Contains(w.Body.String(), `"success":false`) {
		t.Errorf("tmux error: got %d %s", w.Code, w.Body.String())
	}

	if w := postCommand(t, h, "run-shell ls"); w.Code != 403 {
		t.Errorf("run-shell: expected 403, got %d", w.Code)
	}
	if w := postCommand(t, h, ""); w.Code != 400 {
		t.Errorf("empty: expected 400, got %d", w.Code)
	}
}

func TestCommandEndpoint_NoControl(t *testing.T) {
	h := webserver.New(openStore(t), nil, webserver.Config{}, nil).Handler()
	if w := postCommand(t, h, "list-windows"); w.Code != 503 {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := webserver.New(openStore(t), fakeControl{}, webserver.Config{}, nil).Handler()
	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"pid":42`) {
		t.Errorf("status: %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "tmux_control_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := webserver.New(nil, nil, webserver.Config{}, nil)
	srv.SetGatherer(reg)
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "tmux_control_test_total 1") {
		t.Errorf("metrics output: %s", w.Body.String())
	}
}

func waitClients(t *testing.T, srv *webserver.Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", srv.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSSEBroadcast(t *testing.T) {
	srv := webserver.New(nil, nil, webserver.Config{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	waitClients(t, srv, 1)

	srv.Broadcast(events.Event{Type: "window-add", Header: "%window-add"})

	sc := bufio.NewScanner(resp.Body)
	var got []string
	for sc.Scan() && len(got) < 2 {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			got = append(got, line)
		}
	}
	if len(got) != 2 || !strings.Contains(got[1], `"type":"window-add"`) {
		t.Errorf("sse lines: %v", got)
	}
}

func TestWebsocket(t *testing.T) {
	srv := webserver.New(nil, fakeControl{}, webserver.Config{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitClients(t, srv, 1)

	srv.Broadcast(events.Event{Type: "sessions-changed"})
	var ev events.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "sessions-changed" {
		t.Errorf("event: %+v", ev)
	}

	conn.WriteJSON(map[string]string{"type": "command", "id": "c1", "command": "list-panes"})
	var res struct {
		Type    string   `json:"type"`
		ID      string   `json:"id"`
		Success bool     `json:"success"`
		Output  []string `json:"output"`
	}
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("read result: %v", err)
	}
	if res.Type != "result" || res.ID != "c1" || !res.Success || res.Output[0] != "list-panes" {
		t.Errorf("result: %+v", res)
	}
}

func TestStartDisabled(t *testing.T) {
	srv := webserver.New(nil, nil, webserver.Config{Enabled: false}, nil)
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestEventsEndpoint_NoJournal(t *testing.T) {
	h := webserver.New(nil, nil, webserver.Config{}, nil).Handler()
	for _, path := range []string{"/api/runs", "/api/events", "/api/runs/x/events"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != 503 {
			t.Errorf("%s: expected 503, got %d", path, w.Code)
		}
	}
}

func TestStartSelfSignedTLS(t *testing.T) {
	dir := t.TempDir()
	srv := webserver.New(nil, fakeControl{}, webserver.Config{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    0,
		TLS:     webserver.TLSConfig{Mode: "self-signed", CacheDir: dir},
	}, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Shutdown(context.Background())

	if _, err := os.Stat(filepath.Join(dir, "self-signed.crt")); err != nil {
		t.Fatalf("certificate not cached: %v", err)
	}

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}}
	resp, err := client.Get("https://" + srv.Addr().String() + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 || resp.TLS == nil {
		t.Errorf("status %d, tls %v", resp.StatusCode, resp.TLS != nil)
	}
}

func TestStartManualTLSNeedsFiles(t *testing.T) {
	srv := webserver.New(nil, nil, webserver.Config{
		Enabled: true,
		Host:    "127.0.0.1",
		TLS:     webserver.TLSConfig{Mode: "manual"},
	}, nil)
	if err := srv.Start(); err == nil {
		srv.Shutdown(context.Background())
		t.Fatal("expected error for manual TLS without cert files")
	}
}

func TestAuthDisabled(t *testing.T) {
	h := webserver.New(openStore(t), nil, webserver.Config{}, nil).Handler()
	req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 404 {
		t.Errorf("expected 404 without a secret, got %d", w.Code)
	}
}
