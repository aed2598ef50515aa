package env

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Env composes the environment handed to recorder and runner subprocesses.
type Env struct {
	base map[string]string
}

// New snapshots the current process environment as the base.
func New() *Env { return FromList(os.Environ()) }

// FromList builds an Env whose base is the given KEY=VALUE pairs.
func FromList(kvs []string) *Env {
	base := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := Split(kv); ok {
			base[k] = v
		}
	}
	return &Env{base: base}
}

// Split parses one KEY=VALUE pair. Pairs without '=' or with an empty key are rejected.
func Split(kv string) (key, value string, ok bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

var ref = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Merge applies overrides on top of the base, expands ${VAR} references in
// override values against the merged set and returns KEY=VALUE pairs sorted by
// key. Expansion is a single pass; unknown references are left as written.
func (e *Env) Merge(overrides []string) []string {
	m := make(map[string]string, len(e.base)+len(overrides))
	for k, v := range e.base {
		m[k] = v
	}
	var touched []string
	for _, kv := range overrides {
		if k, v, ok := Split(kv); ok {
			m[k] = v
			touched = append(touched, k)
		}
	}
	expanded := make(map[string]string, len(touched))
	for _, k := range touched {
		expanded[k] = ref.ReplaceAllStringFunc(m[k], func(s string) string {
			if v, ok := m[s[2:len(s)-1]]; ok {
				return v
			}
			return s
		})
	}
	for k, v := range expanded {
		m[k] = v
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// LoadFile reads a dotenv file into KEY=VALUE pairs in file order. Blank
// lines and # comments are skipped, an "export " prefix is allowed and one
// level of matching quotes around the value is removed.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := Split(line)
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, k+"="+unquote(strings.TrimSpace(v)))
	}
	return out, sc.Err()
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
