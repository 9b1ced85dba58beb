package env

import (
	"strings"
	"testing"
)

// FuzzMerge feeds random override and extra pairs through Merge and checks
// that the output stays well formed and sorted.
func FuzzMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))
	f.Add([]byte("K=${"), []byte("=nokey"))

	f.Fuzz(func(t *testing.T, overridesB []byte, extraB []byte) {
		overrides := splitNZ(string(overridesB))
		extra := splitNZ(string(extraB))
		if len(overrides) > 20 {
			overrides = overrides[:20]
		}
		if len(extra) > 20 {
			extra = extra[:20]
		}

		e := New().withBase(nil)
		for _, kv := range overrides {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				e = e.withSet(kv[:i], kv[i+1:])
			}
		}
		out := e.Merge(extra)
		prev := ""
		for _, kv := range out {
			i := strings.IndexByte(kv, '=')
			if i <= 0 {
				t.Fatalf("bad pair: %q", kv)
			}
			if k := kv[:i]; k < prev {
				t.Fatalf("unsorted output at %q", kv)
			} else {
				prev = k
			}
		}
		// nothing to expand means no placeholder can appear
		hasDollar := false
		for _, s := range append(append([]string{}, overrides...), extra...) {
			if strings.ContainsRune(s, '$') {
				hasDollar = true
				break
			}
		}
		if !hasDollar {
			for _, kv := range out {
				if strings.Contains(kv, "${") {
					t.Fatalf("unexpected placeholder remains: %q", kv)
				}
			}
		}
	})
}

// splitNZ splits s by newlines and returns non-empty trimmed lines.
func splitNZ(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
