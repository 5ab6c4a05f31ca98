package control

import (
	"fmt"
	"strconv"
	"strings"
)

// Sentinels for subscription fields tmux reports as "-".
const (
	NoWindow WindowID = -1
	NoPane   PaneID   = -1
)

// note is embedded by every notification type to seal the union.
type note struct{}

func (note) event()        {}
func (note) notification() {}

// PaneModeChanged is %pane-mode-changed %pane.
type PaneModeChanged struct {
	note
	Pane PaneID
}

// WindowPaneChanged is %window-pane-changed @window %pane.
type WindowPaneChanged struct {
	note
	Window WindowID
	Pane   PaneID
}

// WindowClose is %window-close @window.
type WindowClose struct {
	note
	Window WindowID
}

// UnlinkedWindowClose is %unlinked-window-close @window.
type UnlinkedWindowClose struct {
	note
	Window WindowID
}

// WindowAdd is %window-add @window.
type WindowAdd struct {
	note
	Window WindowID
}

// UnlinkedWindowAdd is %unlinked-window-add @window.
type UnlinkedWindowAdd struct {
	note
	Window WindowID
}

// WindowRenamed is %window-renamed @window name.
type WindowRenamed struct {
	note
	Window WindowID
	Name   string
}

// UnlinkedWindowRenamed is %unlinked-window-renamed @window name.
type UnlinkedWindowRenamed struct {
	note
	Window WindowID
	Name   string
}

// SessionChanged is %session-changed $session name.
type SessionChanged struct {
	note
	Session SessionID
	Name    string
}

// ClientSessionChanged is %client-session-changed client $session name.
type ClientSessionChanged struct {
	note
	Client  string
	Session SessionID
	Name    string
}

// SessionRenamed is %session-renamed $session name.
type SessionRenamed struct {
	note
	Session SessionID
	Name    string
}

// SessionsChanged is %sessions-changed.
type SessionsChanged struct {
	note
}

// SessionWindowChanged is %session-window-changed $session @window.
type SessionWindowChanged struct {
	note
	Session SessionID
	Window  WindowID
}

// ClientDetached is %client-detached client.
type ClientDetached struct {
	note
	Client string
}

// Continue is %continue %pane.
type Continue struct {
	note
	Pane PaneID
}

// Pause is %pause %pane.
type Pause struct {
	note
	Pane PaneID
}

// Exit is %exit [reason]. tmux sends it right before the control client
// goes away; nothing follows it on the stream.
type Exit struct {
	note
	Reason string
}

// Output is %output %pane value. Value is kept escaped as sent.
type Output struct {
	note
	Pane  PaneID
	Value []byte
}

// Data returns Value with tmux's octal escapes decoded.
func (o *Output) Data() []byte { return Unescape(o.Value) }

// ExtendedOutput is %extended-output %pane age ... : value. Rest holds
// everything after age, including the reserved arguments and the lone
// ":" separator.
type ExtendedOutput struct {
	note
	Pane PaneID
	Age  int64
	Rest []byte
}

// LayoutChange is %layout-change @window layout [visible-layout [flags]].
type LayoutChange struct {
	note
	Window        WindowID
	Layout        string
	VisibleLayout string
	Flags         string
}

// SubscriptionChanged is
// %subscription-changed name $session @window index %pane ... : value.
// Window, WindowIndex and Pane are -1 when tmux reports "-".
type SubscriptionChanged struct {
	note
	Name        string
	Session     SessionID
	Window      WindowID
	WindowIndex int
	Pane        PaneID
	Rest        []byte
}

// ConfigError is %config-error message.
type ConfigError struct {
	note
	Message string
}

// Message is %message text.
type Message struct {
	note
	Text string
}

// PasteBufferChanged is %paste-buffer-changed name.
type PasteBufferChanged struct {
	note
	Name string
}

// PasteBufferDeleted is %paste-buffer-deleted name.
type PasteBufferDeleted struct {
	note
	Name string
}

func (*PaneModeChanged) Header() string       { return "%pane-mode-changed" }
func (*WindowPaneChanged) Header() string     { return "%window-pane-changed" }
func (*WindowClose) Header() string           { return "%window-close" }
func (*UnlinkedWindowClose) Header() string   { return "%unlinked-window-close" }
func (*WindowAdd) Header() string             { return "%window-add" }
func (*UnlinkedWindowAdd) Header() string     { return "%unlinked-window-add" }
func (*WindowRenamed) Header() string         { return "%window-renamed" }
func (*UnlinkedWindowRenamed) Header() string { return "%unlinked-window-renamed" }
func (*SessionChanged) Header() string        { return "%session-changed" }
func (*ClientSessionChanged) Header() string  { return "%client-session-changed" }
func (*SessionRenamed) Header() string        { return "%session-renamed" }
func (*SessionsChanged) Header() string       { return "%sessions-changed" }
func (*SessionWindowChanged) Header() string  { return "%session-window-changed" }
func (*ClientDetached) Header() string        { return "%client-detached" }
func (*Continue) Header() string              { return "%continue" }
func (*Pause) Header() string                 { return "%pause" }
func (*Exit) Header() string                  { return "%exit" }
func (*Output) Header() string                { return "%output" }
func (*ExtendedOutput) Header() string        { return "%extended-output" }
func (*LayoutChange) Header() string          { return "%layout-change" }
func (*SubscriptionChanged) Header() string   { return "%subscription-changed" }
func (*ConfigError) Header() string           { return "%config-error" }
func (*Message) Header() string               { return "%message" }
func (*PasteBufferChanged) Header() string    { return "%paste-buffer-changed" }
func (*PasteBufferDeleted) Header() string    { return "%paste-buffer-deleted" }

// splitArgs splits args into exactly n space-separated fields, the last
// one keeping any remaining spaces.
func splitArgs(args string, n int) ([]string, error) {
	if args == "" {
		return nil, fmt.Errorf("expected %d fields, got none", n)
	}
	parts := strings.SplitN(args, " ", n)
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d fields, got %d", n, len(parts))
	}
	return parts, nil
}

func decodePaneOnly(args string) (PaneID, error) {
	parts, err := splitArgs(args, 1)
	if err != nil {
		return 0, err
	}
	return parsePane(parts[0])
}

func decodeWindowOnly(args string) (WindowID, error) {
	parts, err := splitArgs(args, 1)
	if err != nil {
		return 0, err
	}
	return parseWindow(parts[0])
}

func decodeWindowName(args string) (WindowID, string, error) {
	parts, err := splitArgs(args, 2)
	if err != nil {
		return 0, "", err
	}
	w, err := parseWindow(parts[0])
	return w, parts[1], err
}

func decodeSessionName(args string) (SessionID, string, error) {
	parts, err := splitArgs(args, 2)
	if err != nil {
		return 0, "", err
	}
	s, err := parseSession(parts[0])
	return s, parts[1], err
}

func decodeText(args string) (string, error) {
	if args == "" {
		return "", fmt.Errorf("expected 1 field, got none")
	}
	return args, nil
}

func decodePaneModeChanged(args string) (Notification, error) {
	p, err := decodePaneOnly(args)
	return &PaneModeChanged{Pane: p}, err
}

func decodeWindowPaneChanged(args string) (Notification, error) {
	parts, err := splitArgs(args, 2)
	if err != nil {
		return nil, err
	}
	w, err := parseWindow(parts[0])
	if err != nil {
		return nil, err
	}
	p, err := parsePane(parts[1])
	return &WindowPaneChanged{Window: w, Pane: p}, err
}

func decodeWindowClose(args string) (Notification, error) {
	w, err := decodeWindowOnly(args)
	return &WindowClose{Window: w}, err
}

func decodeUnlinkedWindowClose(args string) (Notification, error) {
	w, err := decodeWindowOnly(args)
	return &UnlinkedWindowClose{Window: w}, err
}

func decodeWindowAdd(args string) (Notification, error) {
	w, err := decodeWindowOnly(args)
	return &WindowAdd{Window: w}, err
}

func decodeUnlinkedWindowAdd(args string) (Notification, error) {
	w, err := decodeWindowOnly(args)
	return &UnlinkedWindowAdd{Window: w}, err
}

func decodeWindowRenamed(args string) (Notification, error) {
	w, name, err := decodeWindowName(args)
	return &WindowRenamed{Window: w, Name: name}, err
}

func decodeUnlinkedWindowRenamed(args string) (Notification, error) {
	w, name, err := decodeWindowName(args)
	return &UnlinkedWindowRenamed{Window: w, Name: name}, err
}

func decodeSessionChanged(args string) (Notification, error) {
	s, name, err := decodeSessionName(args)
	return &SessionChanged{Session: s, Name: name}, err
}

func decodeClientSessionChanged(args string) (Notification, error) {
	parts, err := splitArgs(args, 3)
	if err != nil {
		return nil, err
	}
	s, err := parseSession(parts[1])
	return &ClientSessionChanged{Client: parts[0], Session: s, Name: parts[2]}, err
}

func decodeSessionRenamed(args string) (Notification, error) {
	s, name, err := decodeSessionName(args)
	return &SessionRenamed{Session: s, Name: name}, err
}

func decodeSessionsChanged(string) (Notification, error) {
	return &SessionsChanged{}, nil
}

func decodeSessionWindowChanged(args string) (Notification, error) {
	parts, err := splitArgs(args, 2)
	if err != nil {
		return nil, err
	}
	s, err := parseSession(parts[0])
	if err != nil {
		return nil, err
	}
	w, err := parseWindow(parts[1])
	return &SessionWindowChanged{Session: s, Window: w}, err
}

func decodeClientDetached(args string) (Notification, error) {
	c, err := decodeText(args)
	return &ClientDetached{Client: c}, err
}

func decodeContinue(args string) (Notification, error) {
	p, err := decodePaneOnly(args)
	return &Continue{Pane: p}, err
}

func decodePause(args string) (Notification, error) {
	p, err := decodePaneOnly(args)
	return &Pause{Pane: p}, err
}

func decodeExit(args string) (Notification, error) {
	return &Exit{Reason: args}, nil
}

func decodeOutput(args string) (Notification, error) {
	pane, value, _ := strings.Cut(args, " ")
	p, err := parsePane(pane)
	if err != nil {
		return nil, err
	}
	return &Output{Pane: p, Value: append([]byte{}, value...)}, nil
}

func decodeExtendedOutput(args string) (Notification, error) {
	parts, err := splitArgs(args, 3)
	if err != nil {
		return nil, err
	}
	p, err := parsePane(parts[0])
	if err != nil {
		return nil, err
	}
	age, err := parseInt(parts[1])
	if err != nil {
		return nil, err
	}
	return &ExtendedOutput{Pane: p, Age: age, Rest: append([]byte{}, parts[2]...)}, nil
}

func decodeLayoutChange(args string) (Notification, error) {
	parts := strings.SplitN(args, " ", 4)
	if len(parts) < 2 {
		return nil, fmt.Errorf("expected at least 2 fields, got %d", len(parts))
	}
	w, err := parseWindow(parts[0])
	if err != nil {
		return nil, err
	}
	lc := &LayoutChange{Window: w, Layout: parts[1]}
	if len(parts) > 2 {
		lc.VisibleLayout = parts[2]
	}
	if len(parts) > 3 {
		lc.Flags = parts[3]
	}
	return lc, nil
}

func decodeSubscriptionChanged(args string) (Notification, error) {
	parts, err := splitArgs(args, 6)
	if err != nil {
		return nil, err
	}
	sc := &SubscriptionChanged{Name: parts[0], Window: NoWindow, WindowIndex: -1, Pane: NoPane, Rest: append([]byte{}, parts[5]...)}
	if sc.Session, err = parseSession(parts[1]); err != nil {
		return nil, err
	}
	if parts[2] != "-" {
		if sc.Window, err = parseWindow(parts[2]); err != nil {
			return nil, err
		}
	}
	if parts[3] != "-" {
		idx, err := strconv.Atoi(parts[3])
		if err != nil {
			return nil, fmt.Errorf("invalid window index %q", parts[3])
		}
		sc.WindowIndex = idx
	}
	if parts[4] != "-" {
		if sc.Pane, err = parsePane(parts[4]); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

func decodeConfigError(args string) (Notification, error) {
	m, err := decodeText(args)
	return &ConfigError{Message: m}, err
}

func decodeMessage(args string) (Notification, error) {
	return &Message{Text: args}, nil
}

func decodePasteBufferChanged(args string) (Notification, error) {
	n, err := decodeText(args)
	return &PasteBufferChanged{Name: n}, err
}

func decodePasteBufferDeleted(args string) (Notification, error) {
	n, err := decodeText(args)
	return &PasteBufferDeleted{Name: n}, err
}
