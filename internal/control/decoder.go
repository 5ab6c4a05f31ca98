package control

import "log/slog"

// State is the decoder's position in the message grammar.
type State int

const (
	AwaitingHeader State = iota
	AccumulatingBody
)

func (s State) String() string {
	switch s {
	case AwaitingHeader:
		return "awaiting-header"
	case AccumulatingBody:
		return "accumulating-body"
	default:
		return "unknown"
	}
}

// Decoder turns complete lines into events. It holds state only while a
// reply block is open. After a protocol error every further call returns
// the same error.
type Decoder struct {
	state  State
	begin  BlockMark
	body   []byte
	err    error
	logger *slog.Logger
}

// NewDecoder returns a decoder in the AwaitingHeader state. A nil logger
// disables debug logging.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// State returns the current decoder state.
func (d *Decoder) State() State { return d.state }

// Clean reports whether no block is partially accumulated.
func (d *Decoder) Clean() bool { return d.state == AwaitingHeader }

// Err returns the sticky protocol error, if any.
func (d *Decoder) Err() error { return d.err }

// Decode consumes one line, with or without its trailing newline. It
// returns a nil Event while a block body is still being accumulated.
// The line is not retained.
func (d *Decoder) Decode(line []byte) (Event, error) {
	if d.err != nil {
		return nil, d.err
	}
	var (
		ev  Event
		err error
	)
	switch d.state {
	case AwaitingHeader:
		ev, err = d.header(line)
	case AccumulatingBody:
		ev, err = d.accumulate(line)
	}
	if err != nil {
		d.err = err
		d.reset()
	}
	return ev, err
}

func (d *Decoder) header(line []byte) (Event, error) {
	header, err := headerOf(line)
	if err != nil {
		return nil, err
	}
	if decode, ok := notificationCatalog[header]; ok {
		return decodeWith(decode, header, line)
	}
	if blockStarts[header] {
		mark, err := parseBlockMark(line)
		if err != nil {
			return nil, err
		}
		d.begin = mark
		d.body = d.body[:0]
		d.state = AccumulatingBody
		d.debug("block opened", "number", mark.Number)
		return nil, nil
	}
	return nil, protocolError(line, "unknown header "+header)
}

func (d *Decoder) accumulate(line []byte) (Event, error) {
	if len(line) > 0 && line[0] == '%' {
		if header, err := headerOf(line); err == nil && blockEnds[header] {
			end, err := parseBlockMark(line)
			if err != nil {
				return nil, err
			}
			body := make([]byte, len(d.body))
			copy(body, d.body)
			reply := &Reply{Begin: d.begin, Body: body, End: end}
			d.reset()
			d.debug("block closed", "number", end.Number, "token", end.Token, "bytes", len(body))
			return reply, nil
		}
	}
	d.body = append(d.body, line...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		d.body = append(d.body, '\n')
	}
	return nil, nil
}

func (d *Decoder) reset() {
	d.state = AwaitingHeader
	d.begin = BlockMark{}
	d.body = d.body[:0]
}

func (d *Decoder) debug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug("control: "+msg, args...)
	}
}
