package terminal

import "regexp"

// ansiSeq covers CSI sequences (colors, cursor movement), OSC sequences
// terminated by BEL or ST, and the remaining two byte escapes.
var ansiSeq = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiSeq.ReplaceAllString(s, "")
}
