package source

import (
	"bufio"
	"io"
)

// lineReader only ever yields entire newline-terminated lines, holding back a
// trailing partial line until the rest of it has been written. This lets the
// CSV source follow a recording that is still being appended to.
type lineReader struct {
	r *bufio.Reader
	// partial is an unterminated line seen before the last EOF.
	partial []byte
	// ready holds complete lines not yet handed to the caller.
	ready []byte
}

var _ io.Reader = (*lineReader)(nil)

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{
		r: bufio.NewReader(r),
	}
}

func (l *lineReader) Read(b []byte) (int, error) {
	if len(l.ready) == 0 {
		data, err := l.r.ReadBytes(byte('\n'))
		if err != nil {
			l.partial = append(l.partial, data...)
			return 0, io.EOF
		}
		l.ready = append(l.partial, data...)
		l.partial = nil
	}
	n := copy(b, l.ready)
	l.ready = l.ready[n:]
	return n, nil
}
