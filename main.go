package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/zsprackett/tmux-control/internal/applog"
	"github.com/zsprackett/tmux-control/internal/config"
	"github.com/zsprackett/tmux-control/internal/db"
	"github.com/zsprackett/tmux-control/internal/listener"
	"github.com/zsprackett/tmux-control/internal/tmux"
)

var version = "dev"

const usage = `usage:
  tmux-control listen attach <session>
  tmux-control listen new <session>
  tmux-control listen custom -- <tmux args...>
  tmux-control repl <session>
  tmux-control runs
  tmux-control adduser <name>
  tmux-control passwd <name>
  tmux-control version
`

func openDB(path string) (*db.DB, error) {
	if path == "" {
		path = config.DBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	store, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func loadConfig() config.Config {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config: %v\n", err)
		cfg = config.Defaults()
	}
	return cfg
}

// initLogging opens the daily log file. echo, when non-nil, also receives
// every record.
func initLogging(cfg config.Config, echo io.Writer) (*slog.Logger, func()) {
	logger, closer, err := applog.Init(applog.InitConfig{
		LogDir:   cfg.LogDir,
		LogLevel: cfg.LogLevel,
		Format:   cfg.LogFormat,
		Echo:     echo,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not init log file: %v\n", err)
		return slog.Default(), func() {}
	}
	return logger, func() { closer.Close() }
}

func listenerConfig(cfg config.Config, m *listener.Metrics) listener.Config {
	return listener.Config{
		ReplyCapacity:        cfg.Listener.ReplyCapacity,
		NotificationCapacity: cfg.Listener.NotificationCapacity,
		PollInterval:         cfg.Listener.Poll(),
		ReadSize:             cfg.Listener.ReadSize,
		Metrics:              m,
	}
}

// checkTmux verifies the configured binary is present and recent enough
// for control mode.
func checkTmux(cfg config.Config) error {
	have, err := tmux.Version(cfg.Tmux.Binary)
	if err != nil {
		return fmt.Errorf("tmux is required but could not be run: %w", err)
	}
	least := cfg.Tmux.MinVersion
	if least == "" {
		least = tmux.MinVersion
	}
	return tmux.CheckVersion(have, least)
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, fmt.Errorf("empty password")
	}
	return bcrypt.GenerateFromPassword(pw, bcrypt.DefaultCost)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "listen":
		if err := runListen(args); err != nil {
			fatal(err)
		}

	case "repl":
		if len(args) != 1 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		if err := runRepl(args[0]); err != nil {
			fatal(err)
		}

	case "runs":
		if err := listRuns(); err != nil {
			fatal(err)
		}

	case "adduser":
		if len(args) != 1 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		username := args[0]
		hash, err := readPassword(fmt.Sprintf("Password for %s: ", username))
		if err != nil {
			fatal(err)
		}
		store, err := openDB(loadConfig().Journal.Path)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		if _, err := store.CreateAccount(username, string(hash)); err != nil {
			fatal(fmt.Errorf("creating account: %w", err))
		}
		fmt.Printf("Account created: %s\n", username)

	case "passwd":
		if len(args) != 1 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		username := args[0]
		hash, err := readPassword(fmt.Sprintf("New password for %s: ", username))
		if err != nil {
			fatal(err)
		}
		store, err := openDB(loadConfig().Journal.Path)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		acc, err := store.GetAccountByUsername(username)
		if err != nil {
			fatal(fmt.Errorf("user not found: %w", err))
		}
		if err := store.UpdateAccountPassword(acc.ID, string(hash)); err != nil {
			fatal(err)
		}
		store.DeleteRefreshTokensByAccount(acc.ID)
		fmt.Printf("Password updated: %s (all sessions invalidated)\n", username)

	case "version":
		fmt.Printf("tmux-control %s\n", version)
		if have, err := tmux.Version(loadConfig().Tmux.Binary); err == nil {
			fmt.Printf("tmux %s\n", have)
		}

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func listRuns() error {
	cfg := loadConfig()
	store, err := openDB(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(20)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, r := range runs {
		counts, err := store.CountEvents(r.ID)
		if err != nil {
			return err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		ended := "running"
		if !r.EndedAt.IsZero() {
			ended = r.EndReason
		}
		fmt.Printf("%s  %-14s  %8s events  %-10s  %s\n",
			r.ID[:8], humanize.Time(r.StartedAt), humanize.Comma(int64(total)), ended, strings.TrimSpace(r.Args))
	}
	return nil
}
