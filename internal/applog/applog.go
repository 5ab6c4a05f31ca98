package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FilePrefix names every log file: FilePrefix + "YYYY-MM-DD.log".
const FilePrefix = "tmux-control-"

const (
	dateLayout      = "2006-01-02"
	defaultKeepDays = 7
)

// DailyRotator is an io.Writer over one log file per calendar day. Files
// dated keepDays or more before the current day are removed on rotation.
// Several control clients may append to the same day's file.
type DailyRotator struct {
	mu       sync.Mutex
	dir      string
	keepDays int
	now      func() time.Time

	date string
	file *os.File
}

func NewDailyRotator(dir string, keepDays int) *DailyRotator {
	if keepDays <= 0 {
		keepDays = defaultKeepDays
	}
	return &DailyRotator{dir: dir, keepDays: keepDays, now: time.Now}
}

// SetNow replaces the clock. Tests only.
func (r *DailyRotator) SetNow(fn func() time.Time) {
	r.mu.Lock()
	r.now = fn
	r.mu.Unlock()
}

// Path returns the file currently written to, or "" before the first write.
func (r *DailyRotator) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

func (r *DailyRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if day := now.Format(dateLayout); day != r.date || r.file == nil {
		if err := r.openDay(day); err != nil {
			return 0, err
		}
		r.prune(now)
	}
	return r.file.Write(p)
}

func (r *DailyRotator) openDay(day string) error {
	f, err := os.OpenFile(filepath.Join(r.dir, FilePrefix+day+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if r.file != nil {
		r.file.Close()
	}
	r.file, r.date = f, day
	return nil
}

// prune removes dated files that have aged out. Names that do not parse
// as a date are left alone.
func (r *DailyRotator) prune(now time.Time) {
	matches, err := filepath.Glob(filepath.Join(r.dir, FilePrefix+"*.log"))
	if err != nil {
		return
	}
	today, _ := time.Parse(dateLayout, now.Format(dateLayout))
	cutoff := today.AddDate(0, 0, -r.keepDays)
	for _, m := range matches {
		day := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), FilePrefix), ".log")
		t, err := time.Parse(dateLayout, day)
		if err != nil {
			continue
		}
		if !t.After(cutoff) {
			os.Remove(m)
		}
	}
}

func (r *DailyRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

type InitConfig struct {
	LogDir   string
	LogLevel string
	Format   string    // "text" (default) or "json"
	KeepDays int       // defaults to 7
	Echo     io.Writer // optional second sink, e.g. os.Stderr
}

// Init installs a file-backed logger as slog.Default and points the
// stdlib log package at the same file. Every record carries the process
// id. The caller closes the returned io.Closer.
func Init(cfg InitConfig) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := NewDailyRotator(cfg.LogDir, cfg.KeepDays)

	var out io.Writer = rotator
	if cfg.Echo != nil {
		out = io.MultiWriter(rotator, cfg.Echo)
	}
	logger := slog.New(NewHandler(out, cfg.Format, ParseLevel(cfg.LogLevel))).With("pid", os.Getpid())
	slog.SetDefault(logger)
	log.SetOutput(out)
	log.SetFlags(0)
	return logger, rotator, nil
}

// NewHandler returns a text or JSON slog handler writing to w.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a config level name to slog.Level. Unknown names are Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
