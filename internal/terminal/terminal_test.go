package terminal

import (
	"strings"
	"sync"
	"testing"
)

func TestMatchStartupComplete(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{`[13:45:02 INFO]: Done (8.512s)! For help, type "help"`, true},
		{`[13:45:02 INFO]: Done (12s)! For help, type "help"`, true},
		{`[9:05:44 INFO]: Done (3.1s)!`, true},
		{`[13:45:02] [Server thread/INFO]: Done (8.512s)! For help, type "help"`, true},
		{`  [13:45:02 INFO]: Done (8.512s)!`, true},
		{`[13:45:02 INFO]: Loading plugins...`, false},
		{`[13:45:02 WARN]: Done (8.512s)!`, false},
		{`[13:45:02 INFO]: <Steve> Done (8.512s)!`, false},
		{`Done (8.512s)!`, false},
		{``, false},
	}
	for _, c := range cases {
		if got := MatchStartupComplete(c.line); got != c.want {
			t.Errorf("MatchStartupComplete(%q) = %v, want %v", c.line, got, c.want)
		}
	}
}

func TestMatchAnyAndRegexp(t *testing.T) {
	custom, err := MatchRegexp(`^Server started on port \d+$`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	c := MatchAny(nil, MatchStartupComplete, custom)
	if !c("Server started on port 25565") {
		t.Fatalf("custom classifier should match")
	}
	if !c(`[13:45:02 INFO]: Done (1.0s)!`) {
		t.Fatalf("default classifier should match")
	}
	if c("hello") {
		t.Fatalf("unexpected match")
	}
	if _, err := MatchRegexp("("); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestStripANSI(t *testing.T) {
	in := "\x1b[32m[13:45:02 INFO]\x1b[0m: \x1b[1;33mDone\x1b[m (1.2s)!\x1b]0;title\x07"
	got := StripANSI(in)
	if got != "[13:45:02 INFO]: Done (1.2s)!" {
		t.Fatalf("StripANSI = %q", got)
	}
	if !MatchStartupComplete(got) {
		t.Fatalf("stripped banner should classify as ready")
	}
}

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) add(l string) {
	s.mu.Lock()
	s.lines = append(s.lines, l)
	s.mu.Unlock()
}

func TestLineSplitterChunks(t *testing.T) {
	var sink lineSink
	sp := NewLineSplitter(sink.add)

	chunks := []string{"[13:45:02 IN", "FO]: Loading\r\n\x1b[32mse", "cond\x1b[0m\nthird", " partial"}
	for _, c := range chunks {
		n, err := sp.Write([]byte(c))
		if err != nil || n != len(c) {
			t.Fatalf("write %q: n=%d err=%v", c, n, err)
		}
	}
	if len(sink.lines) != 2 {
		t.Fatalf("expected 2 complete lines, got %v", sink.lines)
	}
	if sink.lines[0] != "[13:45:02 INFO]: Loading" || sink.lines[1] != "second" {
		t.Fatalf("unexpected lines: %q", sink.lines)
	}
	sp.Flush()
	if len(sink.lines) != 3 || sink.lines[2] != "third partial" {
		t.Fatalf("flush should emit partial line, got %q", sink.lines)
	}
	sp.Flush()
	if len(sink.lines) != 3 {
		t.Fatalf("second flush must be a no-op")
	}
}

func TestLineSplitterMaxLine(t *testing.T) {
	var sink lineSink
	sp := NewLineSplitter(sink.add)
	sp.maxLine = 8
	_, _ = sp.Write([]byte(strings.Repeat("x", 10)))
	if len(sink.lines) != 1 || len(sink.lines[0]) != 10 {
		t.Fatalf("oversized partial line should be emitted, got %q", sink.lines)
	}
}
