package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"time"
)

// Config holds notification settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

// Notice describes why a control client went away.
type Notice struct {
	Kind   string // "exit" or "detached"
	Target string // tmux session or command line the client was attached to
	Detail string // exit reason or detached client name
	RunID  string
}

func (n Notice) title() string {
	return fmt.Sprintf("%s: control client %s", n.Target, n.Kind)
}

// Notifier fires system notifications and optional webhook POSTs.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New returns a Notifier with the given config.
func New(cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// Notify reports a detached or exited control client to every
// configured sink. Failures are logged, never returned.
func (n *Notifier) Notify(notice Notice) {
	if n == nil || !n.cfg.Enabled {
		return
	}

	msg := notice.title()
	if notice.Detail != "" {
		msg += " (" + notice.Detail + ")"
	}
	n.sendSystemNotification(msg)

	if n.cfg.Webhook != "" {
		n.sendWebhook(notice)
	}
	if n.cfg.NtfyURL != "" {
		n.sendNtfy(notice)
	}
}

func (n *Notifier) sendSystemNotification(msg string) {
	if runtime.GOOS != "darwin" {
		return
	}
	script := fmt.Sprintf(
		`display notification %q with title "tmux-control"`,
		msg,
	)
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		n.logger.Debug("notify: osascript failed", "err", err)
	}
}

type webhookPayload struct {
	Event     string `json:"event"`
	Target    string `json:"target"`
	Detail    string `json:"detail,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (n *Notifier) sendWebhook(notice Notice) {
	payload := webhookPayload{
		Event:     notice.Kind,
		Target:    notice.Target,
		Detail:    notice.Detail,
		RunID:     notice.RunID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := n.post(n.cfg.Webhook, payload); err != nil {
		n.logger.Warn("notify: webhook failed", "url", n.cfg.Webhook, "err", err)
	}
}

type ntfyPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

func (n *Notifier) sendNtfy(notice Notice) {
	payload := ntfyPayload{
		Title:    notice.title(),
		Message:  notice.Detail,
		Priority: 3,
		Tags:     []string{"electric_plug"},
	}
	if notice.Kind == "exit" {
		payload.Priority = 4
		payload.Tags = []string{"rotating_light"}
	}
	if err := n.post(n.cfg.NtfyURL, payload); err != nil {
		n.logger.Warn("notify: ntfy failed", "url", n.cfg.NtfyURL, "err", err)
	}
}

func (n *Notifier) post(url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
