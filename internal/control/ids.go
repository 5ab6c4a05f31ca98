package control

import (
	"fmt"
	"strconv"
)

// PaneID is a tmux pane id, written as %N on the wire.
type PaneID int

// WindowID is a tmux window id, written as @N on the wire.
type WindowID int

// SessionID is a tmux session id, written as $N on the wire.
type SessionID int

func (p PaneID) String() string    { return "%" + strconv.Itoa(int(p)) }
func (w WindowID) String() string  { return "@" + strconv.Itoa(int(w)) }
func (s SessionID) String() string { return "$" + strconv.Itoa(int(s)) }

func parseSigil(field string, sigil byte) (int, error) {
	if len(field) < 2 || field[0] != sigil {
		return 0, fmt.Errorf("expected %c-prefixed id, got %q", sigil, field)
	}
	n, err := strconv.Atoi(field[1:])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %c id %q", sigil, field)
	}
	return n, nil
}

func parsePane(field string) (PaneID, error) {
	n, err := parseSigil(field, '%')
	return PaneID(n), err
}

func parseWindow(field string) (WindowID, error) {
	n, err := parseSigil(field, '@')
	return WindowID(n), err
}

func parseSession(field string) (SessionID, error) {
	n, err := parseSigil(field, '$')
	return SessionID(n), err
}

func parseInt(field string) (int64, error) {
	n, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", field)
	}
	return n, nil
}
