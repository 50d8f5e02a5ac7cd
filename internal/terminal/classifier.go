package terminal

import (
	"regexp"
	"strings"
)

// Classifier reports whether a single ANSI-stripped line of server output
// signals that the server finished starting up. Alternate server software
// can provide its own predicate without touching the status machine.
type Classifier func(line string) bool

// startupDone matches the ready banner printed by Paper/Spigot style servers
//
//	[13:45:02 INFO]: Done (8.512s)! For help, type "help"
//
// and by the vanilla server
//
//	[13:45:02] [Server thread/INFO]: Done (8.512s)! For help, type "help"
var startupDone = regexp.MustCompile(`^\[\d{1,2}:\d{2}:\d{2}(?: INFO\]|\] \[[^\]]*/INFO\]):? Done \(\d+(?:\.\d+)?s\)!`)

// MatchStartupComplete is the default Classifier.
func MatchStartupComplete(line string) bool {
	return startupDone.MatchString(strings.TrimSpace(line))
}

// MatchAny combines classifiers; the result matches when any of them does.
// Nil entries are skipped.
func MatchAny(cs ...Classifier) Classifier {
	return func(line string) bool {
		for _, c := range cs {
			if c != nil && c(line) {
				return true
			}
		}
		return false
	}
}

// MatchRegexp builds a Classifier from a user supplied pattern.
func MatchRegexp(expr string) (Classifier, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return func(line string) bool { return re.MatchString(line) }, nil
}
