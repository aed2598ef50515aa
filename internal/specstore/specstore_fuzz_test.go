package specstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// FuzzNames drives arbitrary names through Save, Read and Delete and checks
// nothing is ever written outside the saved directory.
func FuzzNames(f *testing.F) {
	seeds := []string{
		"login.spec.ts",
		"../escape.spec.ts",
		"..\\escape.spec.ts",
		"a/b.spec.ts",
		".spec.ts",
		"..spec.ts",
		"x.spec.js",
		"",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, name string) {
		root := t.TempDir()
		s := New(filepath.Join(root, "saved"), filepath.Join(root, "temp"), ".ts")
		if err := s.EnsureDirs(); err != nil {
			t.Fatal(err)
		}

		if err := s.Save(name, "x"); err != nil {
			if !errors.Is(err, ErrInvalidName) {
				t.Fatalf("unexpected save error for %q: %v", name, err)
			}
		} else if _, err := os.Stat(filepath.Join(s.SavedDir, name)); err != nil {
			t.Fatalf("saved %q but file missing: %v", name, err)
		}
		_, _ = s.Read(name)
		_ = s.Delete(name)

		entries, err := os.ReadDir(root)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if e.Name() != "saved" && e.Name() != "temp" {
				t.Fatalf("name %q created %q outside the saved directory", name, e.Name())
			}
		}
	})
}
