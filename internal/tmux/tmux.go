package tmux

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultBinary is used when Options.Binary is empty.
const DefaultBinary = "tmux"

// MinVersion is the oldest tmux whose control mode we understand.
const MinVersion = "3.2"

var (
	// ErrTooOld is returned by CheckVersion for tmux releases before the
	// required one.
	ErrTooOld = errors.New("installed tmux too old")

	// ErrBannedCommand is returned by CheckCommand for commands that
	// would block the control client.
	ErrBannedCommand = errors.New("command not allowed over control mode")
)

func IsAvailable() bool {
	return exec.Command(DefaultBinary, "-V").Run() == nil
}

func InsideTmux() bool {
	return os.Getenv("TMUX") != ""
}

// HasSession reports whether a session with the given name exists.
func HasSession(binary, name string) bool {
	return exec.Command(orDefault(binary), "has-session", "-t", "="+name).Run() == nil
}

// ListSessions returns the names of running sessions. It returns nil
// when no server is running.
func ListSessions(binary string) []string {
	out, err := exec.Command(orDefault(binary), "list-sessions", "-F", "#{session_name}").Output()
	if err != nil {
		return nil
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names
}

// Version runs `tmux -V` and returns the version part, e.g. "3.3a".
func Version(binary string) (string, error) {
	out, err := exec.Command(orDefault(binary), "-V").Output()
	if err != nil {
		return "", fmt.Errorf("tmux -V: %w", err)
	}
	return ParseVersionOutput(string(out))
}

// ParseVersionOutput extracts the version from `tmux -V` output such as
// "tmux 3.3a" or "tmux next-3.5".
func ParseVersionOutput(out string) (string, error) {
	out = strings.TrimSpace(out)
	v, ok := strings.CutPrefix(out, "tmux ")
	if !ok {
		return "", fmt.Errorf("can not understand tmux version output %q", out)
	}
	return strings.TrimPrefix(v, "next-"), nil
}

type version struct {
	major, minor int
	suffix       string
}

func parseVersion(s string) (version, error) {
	major, rest, ok := strings.Cut(s, ".")
	if !ok {
		return version{}, fmt.Errorf("invalid tmux version %q", s)
	}
	var v version
	var err error
	if v.major, err = strconv.Atoi(major); err != nil {
		return version{}, fmt.Errorf("invalid tmux version %q", s)
	}
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if v.minor, err = strconv.Atoi(rest[:i]); err != nil {
		return version{}, fmt.Errorf("invalid tmux version %q", s)
	}
	v.suffix = rest[i:]
	return v, nil
}

func (v version) less(o version) bool {
	if v.major != o.major {
		return v.major < o.major
	}
	if v.minor != o.minor {
		return v.minor < o.minor
	}
	return v.suffix < o.suffix
}

// CheckVersion returns ErrTooOld if have is older than least. Letter
// suffixes order patch releases: 3.2 < 3.2a < 3.3.
func CheckVersion(have, least string) error {
	h, err := parseVersion(have)
	if err != nil {
		return err
	}
	l, err := parseVersion(least)
	if err != nil {
		return err
	}
	if h.less(l) {
		return fmt.Errorf("%w: have %s, need %s", ErrTooOld, have, least)
	}
	return nil
}

// AttachArgs are the control-client arguments for attaching to session.
func AttachArgs(session string) []string {
	return []string{"attach-session", "-t", session}
}

// NewArgs are the control-client arguments for creating session.
func NewArgs(session string) []string {
	return []string{"new-session", "-s", session}
}

// CheckCommand rejects commands that must not be sent over a control
// client. run-shell blocks the client until the shell command exits.
func CheckCommand(command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "run-shell", "run":
		return fmt.Errorf("%w: %s", ErrBannedCommand, fields[0])
	}
	return nil
}

func orDefault(binary string) string {
	if binary == "" {
		return DefaultBinary
	}
	return binary
}
