package control

import (
	"iter"
	"log/slog"
)

// StreamReader decodes a raw control-mode byte stream into events.
type StreamReader struct {
	lines   LineAssembler
	decoder *Decoder
}

// NewStreamReader returns a reader in the clean state.
func NewStreamReader(logger *slog.Logger) *StreamReader {
	return &StreamReader{decoder: NewDecoder(logger)}
}

// Feed appends data to the stream and returns the events it completes.
// The data is buffered immediately; lines are decoded lazily as the
// caller iterates. If the caller stops early, the remaining lines are
// decoded by the next Feed.
// A protocol error is yielded once per call and ends the sequence; the
// reader is unusable afterwards.
func (r *StreamReader) Feed(data []byte) iter.Seq2[Event, error] {
	if r.decoder.Err() == nil {
		r.lines.Append(data)
	}
	return func(yield func(Event, error) bool) {
		if err := r.decoder.Err(); err != nil {
			yield(nil, err)
			return
		}
		r.lines.Drain(func(line []byte) bool {
			ev, err := r.decoder.Decode(line)
			if err != nil {
				r.lines.Reset()
				yield(nil, err)
				return false
			}
			if ev == nil {
				return true
			}
			return yield(ev, nil)
		})
	}
}

// Events is Feed collected into a slice.
func (r *StreamReader) Events(data []byte) ([]Event, error) {
	var out []Event
	for ev, err := range r.Feed(data) {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Clean reports whether no partial line is buffered and no block is
// open.
func (r *StreamReader) Clean() bool {
	return r.lines.Pending() == 0 && r.decoder.Clean()
}

// Err returns the protocol error that made the reader unusable, if any.
func (r *StreamReader) Err() error { return r.decoder.Err() }
