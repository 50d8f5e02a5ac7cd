package terminal

import (
	"bytes"
	"strings"
	"sync"
)

// DefaultMaxLine bounds how much of an unterminated line is buffered before
// it is emitted anyway.
const DefaultMaxLine = 64 * 1024

// LineSplitter turns raw output chunks into complete, ANSI-stripped lines.
// It implements io.Writer so it can sit behind an io.MultiWriter next to the
// terminal fan-out. Safe for concurrent use.
type LineSplitter struct {
	mu      sync.Mutex
	buf     []byte
	handle  func(line string)
	maxLine int
}

// NewLineSplitter returns a splitter calling handle for every line.
func NewLineSplitter(handle func(line string)) *LineSplitter {
	return &LineSplitter{handle: handle, maxLine: DefaultMaxLine}
}

// Write buffers p and emits every complete line. It never fails.
func (s *LineSplitter) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.buf = append(s.buf, p...)
	var lines []string
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, clean(s.buf[:i]))
		s.buf = s.buf[i+1:]
	}
	if len(s.buf) > s.maxLine {
		lines = append(lines, clean(s.buf))
		s.buf = nil
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	s.mu.Unlock()

	for _, l := range lines {
		s.handle(l)
	}
	return len(p), nil
}

// Flush emits a buffered partial line, if any.
func (s *LineSplitter) Flush() {
	s.mu.Lock()
	rest := s.buf
	s.buf = nil
	s.mu.Unlock()
	if len(rest) > 0 {
		s.handle(clean(rest))
	}
}

func clean(b []byte) string {
	return StripANSI(strings.TrimRight(string(b), "\r"))
}
