package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zsprackett/tmux-control/internal/config"
	"github.com/zsprackett/tmux-control/internal/control"
	"github.com/zsprackett/tmux-control/internal/db"
	"github.com/zsprackett/tmux-control/internal/events"
	"github.com/zsprackett/tmux-control/internal/listener"
	"github.com/zsprackett/tmux-control/internal/monitor"
	"github.com/zsprackett/tmux-control/internal/notify"
	"github.com/zsprackett/tmux-control/internal/tmux"
	"github.com/zsprackett/tmux-control/internal/webserver"
)

// listenArgs turns `attach <s>`, `new <s>` or `custom -- <args...>` into
// the tmux arguments and a short target description.
func listenArgs(args []string) (target string, tmuxArgs []string, err error) {
	if len(args) == 0 {
		return "", nil, errors.New(usage)
	}
	switch args[0] {
	case "attach":
		if len(args) != 2 {
			return "", nil, errors.New("listen attach needs a session name")
		}
		return args[1], tmux.AttachArgs(args[1]), nil
	case "new":
		if len(args) != 2 {
			return "", nil, errors.New("listen new needs a session name")
		}
		return args[1], tmux.NewArgs(args[1]), nil
	case "custom":
		rest := args[1:]
		if len(rest) > 0 && rest[0] == "--" {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return "", nil, errors.New("listen custom needs tmux arguments")
		}
		return strings.Join(rest, " "), rest, nil
	}
	return "", nil, fmt.Errorf("unknown listen mode %q", args[0])
}

func webserverConfig(c config.WebserverConfig) webserver.Config {
	cacheDir := c.TLS.CacheDir
	if cacheDir == "" {
		cacheDir = config.CertsDir()
	}
	return webserver.Config{
		Enabled: c.Enabled,
		Port:    c.Port,
		Host:    c.Host,
		TLS: webserver.TLSConfig{
			Mode:     c.TLS.Mode,
			CertFile: c.TLS.CertFile,
			KeyFile:  c.TLS.KeyFile,
			CacheDir: cacheDir,
		},
		Auth: webserver.AuthConfig{
			JWTSecret:       c.Auth.JWTSecret,
			AccessTokenTTL:  c.Auth.AccessTokenTTL,
			RefreshTokenTTL: c.Auth.RefreshTokenTTL,
		},
	}
}

func runListen(args []string) error {
	target, tmuxArgs, err := listenArgs(args)
	if err != nil {
		return err
	}

	cfg := loadConfig()
	if err := checkTmux(cfg); err != nil {
		return err
	}
	if cfg.Webserver.Enabled {
		if err := config.EnsureJWTSecret(config.DefaultPath(), &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not persist JWT secret: %v\n", err)
		}
	}
	logger, closeLog := initLogging(cfg, nil)
	defer closeLog()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := listener.NewMetrics(reg)
	if err != nil {
		return err
	}

	var store *db.DB
	if cfg.Journal.Enabled || cfg.Webserver.Enabled {
		if store, err = openDB(cfg.Journal.Path); err != nil {
			return fmt.Errorf("could not open database: %w", err)
		}
		defer store.Close()
	}
	var run *db.Run
	if cfg.Journal.Enabled {
		if run, err = store.StartRun(tmuxArgs); err != nil {
			return err
		}
	}

	client, err := tmux.Start(tmux.Options{Binary: cfg.Tmux.Binary, Args: tmuxArgs}, listenerConfig(cfg, metrics), logger)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("listen: attached", "target", target, "pid", client.Pid())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := monitor.Options{
		Target:   target,
		Store:    store,
		Notifier: notify.New(notify.Config(cfg.Notifications), logger),
		OnEvent:  printEvent,
	}
	if run != nil {
		opts.RunID = run.ID
	}

	// With the relay up, commands from web clients go through client.Exec,
	// which then owns the reply lane.
	var srv *webserver.Server
	if cfg.Webserver.Enabled {
		syncCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Sync(syncCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("waiting for tmux: %w", err)
		}
		srv = webserver.New(store, client, webserverConfig(cfg.Webserver), logger)
		srv.SetGatherer(reg)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
		opts.Broadcaster = srv
	} else {
		opts.OwnReplies = true
	}

	started := time.Now()
	mon := monitor.New(client.Listener(), opts, logger)
	mon.Start()

	reason := "interrupted"
	select {
	case <-ctx.Done():
	case <-mon.Done():
		reason = "exit"
		if err := mon.Err(); err != nil && !errors.Is(err, listener.ErrRemoteClosed) {
			reason = "error"
			logger.Error("listen: listener failed", "err", err)
		}
	}

	stats, statsErr := client.Stats()
	mon.Stop()
	closeErr := client.Close()
	if run != nil {
		if err := store.EndRun(run.ID, reason); err != nil {
			logger.Warn("listen: end run", "run", run.ID, "err", err)
		}
	}

	printSummary(mon.Counts(), time.Since(started), stats, statsErr)
	if err := mon.Err(); err != nil && !errors.Is(err, listener.ErrRemoteClosed) {
		return err
	}
	return closeErr
}

// printEvent writes one line per event to stdout.
func printEvent(ev control.Event) {
	env := events.FromControl(ev, time.Now())
	if r, ok := ev.(*control.Reply); ok {
		status := "ok"
		if !r.Success() {
			status = "error"
		}
		fmt.Printf("%s reply #%d %s (%d lines)\n", env.Time.Format("15:04:05.000"), r.Begin.Number, status, len(env.Body))
		for _, line := range env.Body {
			fmt.Printf("    %s\n", line)
		}
		return
	}
	if o, ok := ev.(*control.Output); ok {
		fmt.Printf("%s %s %s %s\n", env.Time.Format("15:04:05.000"), env.Header, o.Pane, humanize.Bytes(uint64(len(o.Data()))))
		return
	}
	fmt.Printf("%s %s%s\n", env.Time.Format("15:04:05.000"), env.Header, formatFields(env.Fields))
}

func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func printSummary(counts map[string]int, elapsed time.Duration, stats tmux.ProcStats, statsErr error) {
	headers := make([]string, 0, len(counts))
	total := 0
	for h, n := range counts {
		headers = append(headers, h)
		total += n
	}
	sort.Strings(headers)

	fmt.Fprintf(os.Stderr, "\n%s events in %s\n", humanize.Comma(int64(total)), elapsed.Round(time.Millisecond))
	for _, h := range headers {
		fmt.Fprintf(os.Stderr, "  %-26s %s\n", h, humanize.Comma(int64(counts[h])))
	}
	if statsErr == nil {
		fmt.Fprintf(os.Stderr, "tmux pid %d: %s resident, %.1f%% cpu\n", stats.PID, humanize.Bytes(stats.RSS), stats.CPUPercent)
	}
}
