package scan

import (
	"errors"
	"strings"
)

// DefaultMaxFrameBytes caps how much unterminated input the assembler holds.
const DefaultMaxFrameBytes = 256

// ErrStreamOverflow means the device produced more than the frame cap
// without a line terminator. The stream is considered malformed.
var ErrStreamOverflow = errors.New("scan: unterminated frame exceeds buffer")

// Assembler accumulates device chunks and yields complete frames.
//
// A frame ends at '\r' or '\n'. Empty lines are dropped, so "\r\n" yields
// one frame. Bytes after the last terminator are held until the next Feed
// or Flush.
//
// Thread Safety:
//   - Not safe for concurrent use. One assembler belongs to one read loop.
type Assembler struct {
	buf []byte
	max int
}

// NewAssembler returns an Assembler holding at most maxBytes of an
// unterminated frame. Zero selects DefaultMaxFrameBytes.
func NewAssembler(maxBytes int) *Assembler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &Assembler{max: maxBytes}
}

// Feed appends chunk and returns every frame it completes, in order.
// ErrStreamOverflow is returned alongside any frames completed before the
// overflow; the pending buffer is discarded.
func (a *Assembler) Feed(chunk []byte) ([]string, error) {
	var frames []string
	start := 0
	for i, c := range chunk {
		if c != '\r' && c != '\n' {
			continue
		}
		a.buf = append(a.buf, chunk[start:i]...)
		if len(a.buf) > 0 {
			frames = append(frames, decode(a.buf))
		}
		a.buf = a.buf[:0]
		start = i + 1
	}
	a.buf = append(a.buf, chunk[start:]...)

	if len(a.buf) > a.max {
		a.buf = a.buf[:0]
		return frames, ErrStreamOverflow
	}
	return frames, nil
}

// Flush returns the pending unterminated frame, if any, and clears it.
// The read loop calls it when the line goes idle so readers that never
// send terminators still deliver one frame per burst.
func (a *Assembler) Flush() (string, bool) {
	if len(a.buf) == 0 {
		return "", false
	}
	frame := decode(a.buf)
	a.buf = a.buf[:0]
	return frame, true
}

// Reset discards any pending bytes.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

// Pending returns the number of buffered bytes.
func (a *Assembler) Pending() int {
	return len(a.buf)
}

// decode turns reader bytes into text. Invalid UTF-8 becomes U+FFFD, which
// the normalizer then rejects as non-hex.
func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
