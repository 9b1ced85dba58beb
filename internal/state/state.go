// Package state persists the identifier of the supervised worker.
//
// The state file holds the worker pid on its first line. An optional second
// line carries JSON metadata written by the supervisor; files containing only
// a pid are accepted as well. The file existing means a worker was launched
// and has not been confirmed stopped.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/hedgectl/internal/process"
)

var (
	// ErrNoState is returned by Load when the state file does not exist.
	ErrNoState = errors.New("no state file")
	// ErrCorrupt wraps content that does not start with a valid pid.
	ErrCorrupt = errors.New("corrupt state file")
)

// Meta is the optional metadata line of a state file.
type Meta struct {
	StartUnix int64     `json:"start_unix,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Command   []string  `json:"command,omitempty"`
	Interval  int       `json:"interval,omitempty"`
}

// Record is the decoded content of a state file.
type Record struct {
	Handle process.Handle
	Meta   *Meta // nil for pid-only files
}

// Encode renders r in state file format.
func Encode(r Record) []byte {
	var b strings.Builder
	b.WriteString(strconv.Itoa(r.Handle.PID))
	b.WriteByte('\n')
	if r.Meta != nil {
		m := *r.Meta
		if m.StartUnix == 0 {
			m.StartUnix = r.Handle.StartUnix
		}
		if js, err := json.Marshal(m); err == nil {
			b.Write(js)
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}

// Decode parses state file content. An unparsable metadata line is ignored;
// an unparsable or non-positive pid is an error.
func Decode(data []byte) (Record, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	pidLine, rest, _ := strings.Cut(text, "\n")
	pidStr := strings.TrimSpace(pidLine)
	if pidStr == "" {
		return Record{}, errors.New("empty state file")
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return Record{}, fmt.Errorf("invalid pid %q: %w", pidStr, err)
	}
	if pid <= 0 {
		return Record{}, fmt.Errorf("invalid pid %d", pid)
	}
	rec := Record{Handle: process.Handle{PID: pid}}
	metaLine, _, _ := strings.Cut(strings.TrimSpace(rest), "\n")
	if metaLine = strings.TrimSpace(metaLine); metaLine != "" {
		var m Meta
		if err := json.Unmarshal([]byte(metaLine), &m); err == nil {
			rec.Meta = &m
			rec.Handle.StartUnix = m.StartUnix
		}
	}
	return rec, nil
}

// Store reads and writes one state file. It does not lock: two writers
// racing on the same path leave whichever record was renamed last.
type Store struct {
	path string
}

func NewStore(path string) *Store { return &Store{path: path} }

func (s *Store) Path() string { return s.path }

// Load reads the state file; ErrNoState when absent.
func (s *Store) Load() (Record, error) {
	b, err := os.ReadFile(filepath.Clean(s.path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNoState
		}
		return Record{}, err
	}
	rec, err := Decode(b)
	if err != nil {
		return Record{}, fmt.Errorf("%w %s: %w", ErrCorrupt, s.path, err)
	}
	return rec, nil
}

// Save replaces the state file with r via a temp file and rename.
func (s *Store) Save(r Record) error {
	if !r.Handle.Valid() {
		return fmt.Errorf("refusing to save invalid pid %d", r.Handle.PID)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(Encode(r)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, s.path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}

// Remove deletes the state file. A missing file is not an error.
func (s *Store) Remove() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
