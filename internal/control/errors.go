package control

import "errors"

// ErrProtocol is matched by every *ProtocolError via errors.Is.
var ErrProtocol = errors.New("protocol error")

// ProtocolError describes a malformed or unrecognized control-mode line.
// A decoder that returned one is no longer usable.
type ProtocolError struct {
	Line    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return "protocol error: " + e.Message
	}
	return "protocol error: " + e.Message + ": " + e.Line
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

func protocolError(line []byte, msg string) *ProtocolError {
	return &ProtocolError{Line: string(trimNewline(line)), Message: msg}
}
