package env

import (
	"strings"
	"testing"
)

// FuzzMerge feeds random base and override lists through Merge and checks the
// output stays well formed.
func FuzzMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))

	f.Fuzz(func(t *testing.T, baseB []byte, overB []byte) {
		base := splitNZ(string(baseB))
		over := splitNZ(string(overB))
		if len(base) > 20 {
			base = base[:20]
		}
		if len(over) > 20 {
			over = over[:20]
		}

		out := FromList(base).Merge(over)
		seen := map[string]bool{}
		for _, kv := range out {
			k, _, ok := Split(kv)
			if !ok {
				t.Fatalf("bad pair: %q", kv)
			}
			if seen[k] {
				t.Fatalf("duplicate key: %q", k)
			}
			seen[k] = true
		}

		dollar := false
		for _, s := range append(append([]string{}, base...), over...) {
			if strings.ContainsRune(s, '$') {
				dollar = true
				break
			}
		}
		if !dollar {
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
