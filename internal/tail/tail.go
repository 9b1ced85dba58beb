// Package tail reads the last lines of a text file without loading all of it.
package tail

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const chunkSize = 8 << 10

// File returns up to n trailing lines of the file at path.
// Errors from opening the file are returned unwrapped so callers can test
// them with errors.Is(err, os.ErrNotExist).
func File(path string, n int) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Lines(f, n)
}

// Lines returns up to n trailing lines of r, reading backwards in chunks.
// A final line terminator does not produce an empty last line; CRLF endings
// are stripped.
func Lines(r io.ReadSeeker, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	var buf []byte
	pos := size
	for pos > 0 {
		step := int64(chunkSize)
		if pos < step {
			step = pos
		}
		pos -= step
		chunk := make([]byte, step)
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		buf = append(chunk, buf...)
		// n+1 separators guarantee n complete lines even without a final newline
		if bytes.Count(buf, []byte{'\n'}) > n {
			break
		}
	}
	text := strings.TrimSuffix(string(buf), "\n")
	if text == "" {
		return []string{}, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines, nil
}
