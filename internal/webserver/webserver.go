package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsprackett/tmux-control/internal/control"
	"github.com/zsprackett/tmux-control/internal/db"
	"github.com/zsprackett/tmux-control/internal/events"
	"github.com/zsprackett/tmux-control/internal/tmux"
)

type TLSConfig struct {
	Mode     string
	CertFile string
	KeyFile  string
	CacheDir string
}

type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  string
	RefreshTokenTTL string
}

type Config struct {
	Enabled bool
	Port    int
	Host    string
	TLS     TLSConfig
	Auth    AuthConfig
}

// Control is the running tmux control client commands are sent through.
type Control interface {
	Exec(ctx context.Context, command string) (*control.Reply, error)
	Stats() (tmux.ProcStats, error)
}

type Server struct {
	store    *db.DB
	ctl      Control
	cfg      Config
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[chan events.Event]struct{}
	srv     *http.Server
	addr    net.Addr
}

// New returns a relay server. ctl may be nil, in which case command
// endpoints answer 503.
func New(store *db.DB, ctl Control, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    store,
		ctl:      ctl,
		cfg:      cfg,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger,
		clients:  make(map[chan events.Event]struct{}),
	}
}

// SetGatherer selects the registry served on /metrics.
func (s *Server) SetGatherer(g prometheus.Gatherer) { s.gatherer = g }

// Broadcast implements events.Broadcaster.
func (s *Server) Broadcast(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- e:
		default:
		}
	}
}

func (s *Server) addClient(ch chan events.Event) {
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(ch chan events.Event) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

// Clients returns the number of connected SSE and websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("GET /api/events", s.handleLatestEvents)
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("GET /events", s.handleSSE)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.cfg.Auth.JWTSecret == "" {
		return mux
	}
	return jwtMiddleware(s.cfg.Auth.JWTSecret, []string{"/api/auth/", "/metrics"}, mux)
}

// Start listens in the background. It returns once the socket is bound.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	tlsCfg, err := serverTLS(s.cfg.TLS, s.cfg.Host)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webserver: %w", err)
	}
	srv := &http.Server{Handler: s.Handler(), TLSConfig: tlsCfg, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("webserver: listening", "addr", ln.Addr().String(), "tls", tlsCfg != nil)
	go func() {
		var err error
		if tlsCfg != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webserver: serve", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryLimit(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 1000 {
		return n
	}
	return def
}

type statusResponse struct {
	Clients int             `json:"clients"`
	LastRun string          `json:"last_run,omitempty"`
	Process *tmux.ProcStats `json:"process,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Clients: s.Clients()}
	if s.store != nil {
		resp.LastRun, _ = s.store.LastRunID()
	}
	if s.ctl != nil {
		if st, err := s.ctl.Stats(); err == nil {
			resp.Process = &st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.store.ListRuns(queryLimit(r, 20))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}
	s.writeEvents(w, r, r.PathValue("id"))
}

func (s *Server) handleLatestEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}
	id, err := s.store.LastRunID()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	s.writeEvents(w, r, id)
}

func (s *Server) writeEvents(w http.ResponseWriter, r *http.Request, runID string) {
	evts, err := s.store.RecentEvents(runID, queryLimit(r, 50))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if evts == nil {
		evts = []db.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "events": evts})
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Success bool     `json:"success"`
	Output  []string `json:"output"`
	Number  int64    `json:"number"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.ctl == nil {
		http.Error(w, "no control client", http.StatusServiceUnavailable)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		http.Error(w, "command required", http.StatusBadRequest)
		return
	}
	resp, status, err := s.exec(r.Context(), req.Command)
	s.logger.Info("webserver: command", "user", requestUser(r), "command", req.Command, "status", status)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, status, resp)
}

// exec runs one command and maps the outcome to an HTTP status. A tmux
// %error reply is a successful round trip and is reported in the body.
func (s *Server) exec(ctx context.Context, command string) (commandResponse, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reply, err := s.ctl.Exec(ctx, command)
	var cerr *tmux.CommandError
	switch {
	case errors.Is(err, tmux.ErrBannedCommand):
		return commandResponse{}, http.StatusForbidden, err
	case errors.As(err, &cerr), err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		return commandResponse{}, http.StatusGatewayTimeout, err
	default:
		return commandResponse{}, http.StatusBadGateway, err
	}
	out := reply.Lines()
	if out == nil {
		out = []string{}
	}
	return commandResponse{Success: reply.Success(), Output: out, Number: reply.Begin.Number}, http.StatusOK, nil
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", 500)
		return
	}

	ch := make(chan events.Event, 64)
	s.addClient(ch)
	defer s.removeClient(ch)

	writeSSE(w, flusher, events.Event{Type: "hello"})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			writeSSE(w, flusher, e)
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, f http.Flusher, e events.Event) {
	data, _ := json.Marshal(e)
	fmt.Fprintf(w, "data: %s\n\n", data)
	f.Flush()
}
