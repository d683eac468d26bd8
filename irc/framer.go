package irc

import (
	"bytes"
	"iter"
)

// lineTerminator separates protocol lines on the wire.
var lineTerminator = []byte("\r\n")

// Framer accumulates raw bytes from the transport and yields complete
// protocol lines. A partial trailing fragment stays buffered until the
// next Feed completes it. There is no limit on line length.
type Framer struct {
	buf []byte
}

// Feed appends a chunk read from the transport.
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Drain yields every complete line currently buffered, terminator
// stripped. Lines are consumed as they are yielded; stopping the
// iteration early leaves the remaining lines for the next Drain.
func (f *Framer) Drain() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			i := bytes.Index(f.buf, lineTerminator)
			if i < 0 {
				return
			}
			line := string(f.buf[:i])
			f.buf = f.buf[i+len(lineTerminator):]
			if !yield(line) {
				return
			}
		}
	}
}

// Buffered returns the number of bytes waiting for a terminator.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset discards any buffered fragment. Used when the transport is
// recreated so a half line from the old connection is not glued to
// the first line of the new one.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
