package env

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the worker environment. Layers apply in this order, later
// ones winning:
//
//	Defaults
//	OS environment
//	File (dotenv entries, only for keys the OS environment leaves unset or empty)
//	Var (explicit overrides from configuration)
type Env struct {
	Defaults Var
	File     Var
	Var      Var

	// Skipped lists dotenv lines LoadFile ignored, as "path:line".
	Skipped []string

	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// WorkerDefaults are applied beneath everything else so a Python worker
// writes UTF-8 and flushes each line to its log.
func WorkerDefaults() Var {
	return Var{
		"PYTHONIOENCODING": "utf-8",
		"PYTHONUNBUFFERED": "1",
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = parsePairs(os.Environ())
}

// LoadFile reads a dotenv file into e.File. A missing file is not an error;
// lines without '=' are recorded in e.Skipped.
func (e *Env) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	vars, skipped, err := ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	e.File = vars
	for _, n := range skipped {
		e.Skipped = append(e.Skipped, fmt.Sprintf("%s:%d", path, n))
	}
	return nil
}

// Merge composes the final environment. extra holds "K=V" pairs applied last.
// The result is sorted by key. ${KEY} references in values taken from the
// dotenv file, the overrides or extra are replaced once when KEY exists in
// the composed map; inherited values are passed through untouched.
func (e *Env) Merge(extra []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Defaults)+len(e.Var))
	expandable := make(map[string]bool)
	for k, v := range e.Defaults {
		if k != "" {
			m[k] = v
		}
	}
	for k, v := range e.env {
		m[k] = v
	}
	set := func(k, v string) {
		if k != "" {
			m[k] = v
			expandable[k] = true
		}
	}
	for k, v := range e.File {
		if e.env[k] != "" {
			continue
		}
		set(k, v)
	}
	for k, v := range e.Var {
		set(k, v)
	}
	for k, v := range parsePairs(extra) {
		set(k, v)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		if expandable[k] {
			v = expand(v, m)
		}
		out = append(out, k+"="+v)
	}
	return out
}

// ReadFile parses KEY=VALUE lines. Blank lines and lines starting with '#'
// are skipped, an optional "export " prefix is dropped and matching single
// or double quotes around the value are removed. Line numbers of entries
// without a key and '=' are returned in skipped.
func ReadFile(path string) (vars Var, skipped []int, err error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	out := make(Var)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			skipped = append(skipped, lineNo)
			continue
		}
		k := strings.TrimSpace(line[:i])
		out[k] = unquote(strings.TrimSpace(line[i+1:]))
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return out, skipped, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func parsePairs(pairs []string) Var {
	m := make(Var, len(pairs))
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// expand replaces ${KEY} for keys present in m. Unknown references, shell
// modifiers such as ${x:-y} and bare $X are left as written.
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
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		key := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}
