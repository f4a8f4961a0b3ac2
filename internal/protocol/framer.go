// ABOUTME: Line framer that accumulates stream bytes and yields complete lines.
// ABOUTME: Partial trailing bytes are retained for the next read.

package protocol

import (
	"bytes"
	"unicode/utf8"
)

// MaxLineLength bounds a single buffered line. A peer that streams this
// many bytes without a newline is violating the protocol.
const MaxLineLength = 64 * 1024

// Framer splits a byte stream into newline-terminated lines.
// Lines are validated as UTF-8 one at a time, so a multi-byte rune split
// across reads is never mistaken for a decode error.
//
// A Framer is owned by a single reader and is not safe for concurrent use.
type Framer struct {
	buf []byte
	max int
}

// NewFramer creates a Framer with the default line limit.
func NewFramer() *Framer {
	return &Framer{max: MaxLineLength}
}

// Feed appends p and returns every complete line now available, without
// terminators ("\n" or "\r\n"). Lines returned before an error are valid;
// the error reports the first undecodable or overlong line.
func (f *Framer) Feed(p []byte) ([]string, error) {
	f.buf = append(f.buf, p...)

	var lines []string
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		raw := bytes.TrimSuffix(f.buf[:idx], []byte{'\r'})
		f.buf = f.buf[idx+1:]

		if !utf8.Valid(raw) {
			return lines, ErrInvalidUTF8
		}
		lines = append(lines, string(raw))
	}

	if len(f.buf) > f.limit() {
		return lines, ErrLineTooLong
	}

	// Release the backing array once drained so a single large burst does
	// not pin memory for the life of the connection.
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return lines, nil
}

// Pending returns the buffered bytes that do not yet form a complete line.
func (f *Framer) Pending() []byte {
	return f.buf
}

// Reset discards any buffered partial line.
func (f *Framer) Reset() {
	f.buf = nil
}

func (f *Framer) limit() int {
	if f.max <= 0 {
		return MaxLineLength
	}
	return f.max
}
