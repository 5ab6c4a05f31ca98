package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/zsprackett/tmux-control/internal/control"
	"github.com/zsprackett/tmux-control/internal/db"
	"github.com/zsprackett/tmux-control/internal/events"
	"github.com/zsprackett/tmux-control/internal/listener"
	"github.com/zsprackett/tmux-control/internal/notify"
)

// OnEvent is called for every event the monitor consumes.
type OnEvent func(ev control.Event)

// Options wires the monitor to its sinks. Every field is optional.
type Options struct {
	RunID         string
	Target        string // what the client is attached to, for notices
	OwnReplies    bool   // drain the reply lane too; leave false when a tmux.Client issues commands
	JournalOutput bool   // journal %output and %extended-output, which are skipped by default
	Store         *db.DB
	Notifier      *notify.Notifier
	Broadcaster   events.Broadcaster
	OnEvent       OnEvent
}

// Monitor drains a listener's lanes and fans each event out to the
// journal, web clients and notifiers.
type Monitor struct {
	lst    *listener.Listener
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.Mutex
	counts map[string]int
	err    error
}

func New(lst *listener.Listener, opts Options, logger *slog.Logger) *Monitor {
	return &Monitor{
		lst:    lst,
		opts:   opts,
		done:   make(chan struct{}),
		logger: logger,
		counts: make(map[string]int),
	}
}

func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(m.done)
		m.run(ctx)
	}()
}

// Stop ends the consumer loop and waits for it.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Done is closed when the consumer loop has ended, either through Stop or
// because the listener terminated.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Err returns the listener error that ended the loop, or nil after Stop.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Counts returns how many events of each header were consumed.
func (m *Monitor) Counts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

func (m *Monitor) run(ctx context.Context) {
	lanes := listener.NotificationLane
	if m.opts.OwnReplies {
		lanes = listener.AnyLane
	}
	for {
		err := m.lst.WaitFor(ctx, lanes)
		m.drain()
		if err != nil {
			if ctx.Err() == nil {
				m.mu.Lock()
				m.err = err
				m.mu.Unlock()
				m.logger.Debug("monitor: listener finished", "err", err)
			}
			return
		}
	}
}

func (m *Monitor) drain() {
	for {
		progressed := false
		if n, err := m.lst.TryTakeNotification(); err == nil {
			m.handle(n)
			progressed = true
		}
		if m.opts.OwnReplies {
			if r, ok := m.lst.Replies().TryTake(); ok {
				m.handle(r)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

func (m *Monitor) handle(ev control.Event) {
	now := time.Now()
	env := events.FromControl(ev, now)

	m.mu.Lock()
	m.counts[ev.Header()]++
	m.mu.Unlock()

	m.journal(env)
	if m.opts.Broadcaster != nil {
		m.opts.Broadcaster.Broadcast(env)
	}
	if m.opts.OnEvent != nil {
		m.opts.OnEvent(ev)
	}

	switch n := ev.(type) {
	case *control.Exit:
		m.opts.Notifier.Notify(notify.Notice{Kind: "exit", Target: m.opts.Target, Detail: n.Reason, RunID: m.opts.RunID})
	case *control.ClientDetached:
		m.opts.Notifier.Notify(notify.Notice{Kind: "detached", Target: m.opts.Target, Detail: n.Client, RunID: m.opts.RunID})
	}
}

func (m *Monitor) journal(env events.Event) {
	if m.opts.Store == nil || m.opts.RunID == "" {
		return
	}
	if !m.opts.JournalOutput && (env.Header == "%output" || env.Header == "%extended-output") {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		m.logger.Warn("monitor: encode event", "header", env.Header, "err", err)
		return
	}
	err = m.opts.Store.InsertEvent(&db.Event{
		RunID:   m.opts.RunID,
		Ts:      env.Time,
		Lane:    env.Lane,
		Header:  env.Header,
		Payload: string(payload),
	})
	if err != nil {
		m.logger.Warn("monitor: journal event", "header", env.Header, "err", err)
	}
}
