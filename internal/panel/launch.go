package panel

import (
	"runtime"
	"strings"
)

// Launch describes how the server is started inside the shell.
type Launch struct {
	Dir     string
	Java    string
	Jar     string
	JVMArgs []string
	// Args follow the jar. Nil means "nogui".
	Args []string
}

// Command renders the launch line for the host shell:
// cd <dir> && <java> <jvm args> -jar <jar> nogui
func (l Launch) Command() string { return l.command(runtime.GOOS) }

func (l Launch) command(goos string) string {
	q := quotePOSIX
	cd := "cd "
	if goos == "windows" {
		q = quoteWindows
		cd = "cd /d "
	}
	java := l.Java
	if java == "" {
		java = "java"
	}
	jar := l.Jar
	if jar == "" {
		jar = "server.jar"
	}
	args := l.Args
	if args == nil {
		args = []string{"nogui"}
	}

	parts := []string{q(java)}
	for _, a := range l.JVMArgs {
		parts = append(parts, q(a))
	}
	parts = append(parts, "-jar", q(jar))
	for _, a := range args {
		parts = append(parts, q(a))
	}
	line := strings.Join(parts, " ")
	if l.Dir != "" {
		line = cd + q(l.Dir) + " && " + line
	}
	return line
}

func safeShellWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("_-./:=@%+,", r):
		default:
			return false
		}
	}
	return true
}

func quotePOSIX(s string) string {
	if safeShellWord(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteWindows(s string) string {
	if safeShellWord(s) || (strings.ContainsRune(s, '\\') && !strings.ContainsAny(s, " \t&|<>^\"")) {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
