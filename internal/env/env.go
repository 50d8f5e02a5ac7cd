// Package env composes the environment handed to the server shell.
package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers variables over an optional OS base. Later layers win.
type Env struct {
	Var  Var // global variables (K->V)
	base Var
}

// New returns an empty Env. With useOS the current process environment is
// the base layer.
func New(useOS bool) *Env {
	e := &Env{Var: make(Var), base: make(Var)}
	if useOS {
		e.FromOS()
	}
	return e
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.base = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetPairs applies "K=V" entries; malformed entries are skipped.
func (e *Env) SetPairs(pairs []string) {
	for _, kv := range pairs {
		if k, v, ok := split(kv); ok {
			e.Set(k, v)
		}
	}
}

// AddFile applies the variables of a .env file.
func (e *Env) AddFile(path string) error {
	m, err := LoadFile(path)
	if err != nil {
		return err
	}
	for k, v := range m {
		e.Set(k, v)
	}
	return nil
}

// Merge composes the final environment list applying order:
// base (OS env when enabled), then global e.Var overrides, then extra
// "K=V" overrides. ${VAR} references are expanded once against the composed
// map. The result is sorted by key.
func (e *Env) Merge(extra []string) []string {
	m := make(Var, len(e.base)+len(e.Var)+len(extra))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range extra {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			break
		}
		b.WriteString(s[:i])
		name := s[i+2 : i+j]
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+j+1])
		}
		s = s[i+j+1:]
	}
	b.WriteString(s)
	return b.String()
}

// LoadFile parses a simple .env file with KEY=VALUE lines (no export, no
// quotes). Lines starting with # are ignored.
func LoadFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			if k == "" {
				continue
			}
			m[k] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
