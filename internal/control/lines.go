package control

import "bytes"

// LineAssembler splits an unframed byte stream into newline-terminated
// lines. Bytes are appended once and the newline scan never revisits
// bytes it has already looked at.
type LineAssembler struct {
	buf     []byte
	off     int // start of the first undelivered byte
	scanned int // bytes from off already known to contain no newline
}

// Feed appends chunk and calls fn with each complete line, newline
// included, in stream order. The slice passed to fn is only valid until
// fn returns. If fn returns false, Feed stops and the undelivered lines
// are kept for the next call; Feed(nil) resumes delivery.
func (a *LineAssembler) Feed(chunk []byte, fn func(line []byte) bool) {
	a.Append(chunk)
	a.Drain(fn)
}

// Append buffers chunk without delivering any line.
func (a *LineAssembler) Append(chunk []byte) {
	a.buf = append(a.buf, chunk...)
}

// Drain delivers the buffered complete lines to fn, see Feed.
func (a *LineAssembler) Drain(fn func(line []byte) bool) {
	for {
		rest := a.buf[a.off+a.scanned:]
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			a.scanned = len(a.buf) - a.off
			break
		}
		end := a.off + a.scanned + i + 1
		line := a.buf[a.off:end]
		a.off = end
		a.scanned = 0
		if !fn(line) {
			return
		}
	}
	a.compact()
}

// compact moves the trailing fragment to the front of the buffer.
func (a *LineAssembler) compact() {
	if a.off == 0 {
		return
	}
	n := copy(a.buf, a.buf[a.off:])
	a.buf = a.buf[:n]
	a.off = 0
}

// Pending returns the number of buffered, undelivered bytes.
func (a *LineAssembler) Pending() int { return len(a.buf) - a.off }

// Reset drops any buffered bytes.
func (a *LineAssembler) Reset() {
	a.buf = a.buf[:0]
	a.off = 0
	a.scanned = 0
}
