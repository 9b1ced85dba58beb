// Package interpreter locates the program used to run the worker script.
package interpreter

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

var ErrNotFound = errors.New("interpreter not found")

// Resolver searches, in order: an explicit interpreter, the interpreter of
// each virtual environment under WorkDir, then each system name on PATH.
// With nothing configured the worker is executed directly and Resolve
// returns an empty path.
type Resolver struct {
	WorkDir  string
	Explicit string
	VenvDirs []string
	Names    []string

	goos     string
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

// Direct reports whether no interpreter is configured at all.
func (r Resolver) Direct() bool {
	return r.Explicit == "" && len(r.VenvDirs) == 0 && len(r.Names) == 0
}

// Candidates lists the locations Resolve tries, in order.
func (r Resolver) Candidates() []string {
	if r.Explicit != "" {
		return []string{r.Explicit}
	}
	out := make([]string, 0, len(r.VenvDirs)+len(r.Names))
	for _, v := range r.VenvDirs {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, venvInterpreter(r.WorkDir, v, r.targetOS()))
	}
	for _, n := range r.Names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Resolve returns the first usable candidate.
func (r Resolver) Resolve() (string, error) {
	if r.Direct() {
		return "", nil
	}
	cands := r.Candidates()
	for _, c := range cands {
		if p, ok := r.usable(c); ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrNotFound, strings.Join(cands, ", "))
}

func (r Resolver) usable(c string) (string, bool) {
	if strings.ContainsAny(c, `/\`) {
		fi, err := r.statFn()(c)
		if err != nil || fi.IsDir() {
			return "", false
		}
		return c, true
	}
	p, err := r.lookPathFn()(c)
	if err != nil {
		return "", false
	}
	return p, true
}

func venvInterpreter(root, venv, goos string) string {
	if !filepath.IsAbs(venv) && root != "" {
		venv = filepath.Join(root, venv)
	}
	if goos == "windows" {
		return filepath.Join(venv, "Scripts", "python.exe")
	}
	return filepath.Join(venv, "bin", "python")
}

func (r Resolver) targetOS() string {
	if r.goos != "" {
		return r.goos
	}
	return runtime.GOOS
}

func (r Resolver) lookPathFn() func(string) (string, error) {
	if r.lookPath != nil {
		return r.lookPath
	}
	return exec.LookPath
}

func (r Resolver) statFn() func(string) (os.FileInfo, error) {
	if r.stat != nil {
		return r.stat
	}
	return os.Stat
}
