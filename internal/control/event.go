package control

import (
	"bytes"
	"fmt"
	"strings"
)

// Header tokens for reply blocks.
const (
	HeaderBegin = "%begin"
	HeaderEnd   = "%end"
	HeaderError = "%error"
)

// Event is a decoded control-mode message: either a Notification or a
// *Reply. The set of implementations is closed.
type Event interface {
	Header() string
	event()
}

// Notification is a single-line asynchronous event.
type Notification interface {
	Event
	notification()
}

// BlockMark is the {timestamp, command number, flags} record carried by
// %begin, %end and %error lines.
type BlockMark struct {
	Token     string
	Timestamp int64
	Number    int64
	Flags     int64
}

func (m BlockMark) String() string {
	return fmt.Sprintf("%s %d %d %d", m.Token, m.Timestamp, m.Number, m.Flags)
}

func parseBlockMark(line []byte) (BlockMark, error) {
	parts := strings.Split(string(trimNewline(line)), " ")
	if len(parts) != 4 {
		return BlockMark{}, protocolError(line, "block marker needs three fields")
	}
	var m BlockMark
	m.Token = parts[0]
	var err error
	if m.Timestamp, err = parseInt(parts[1]); err != nil {
		return BlockMark{}, protocolError(line, err.Error())
	}
	if m.Number, err = parseInt(parts[2]); err != nil {
		return BlockMark{}, protocolError(line, err.Error())
	}
	if m.Flags, err = parseInt(parts[3]); err != nil {
		return BlockMark{}, protocolError(line, err.Error())
	}
	return m, nil
}

// Reply is the output of one command, framed by %begin and %end/%error.
type Reply struct {
	Begin BlockMark
	Body  []byte // newline-preserving, may be empty
	End   BlockMark
}

func (*Reply) Header() string { return HeaderBegin }
func (*Reply) event()         {}

// Success reports whether the block was closed by %end.
func (r *Reply) Success() bool { return r.End.Token == HeaderEnd }

// Lines splits the body into lines without their newlines.
func (r *Reply) Lines() []string {
	if len(r.Body) == 0 {
		return nil
	}
	return strings.Split(string(bytes.TrimSuffix(r.Body, []byte("\n"))), "\n")
}

func (r *Reply) String() string {
	return fmt.Sprintf("Reply{begin=%d end=%s body=%dB}", r.Begin.Number, r.End.Token, len(r.Body))
}

// headerOf returns the header token of a line. The line must start with
// the % marker.
func headerOf(line []byte) (string, error) {
	line = trimNewline(line)
	if len(line) == 0 || line[0] != '%' {
		return "", protocolError(line, "line does not start with %")
	}
	if i := bytes.IndexByte(line, ' '); i >= 0 {
		return string(line[:i]), nil
	}
	return string(line), nil
}

func trimNewline(line []byte) []byte {
	return bytes.TrimSuffix(line, []byte("\n"))
}
