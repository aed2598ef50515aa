// Package specstore keeps user-saved test scripts and cleans up generated
// scratch files.
package specstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrInvalidName = errors.New("invalid spec file name")
	ErrNotFound    = errors.New("spec not found")
)

type Store struct {
	SavedDir   string
	ScratchDir string
	Ext        string // ".ts" or ".js"

	saveName    *regexp.Regexp
	scratchName *regexp.Regexp
}

func New(savedDir, scratchDir, ext string) *Store {
	if ext == "" {
		ext = ".ts"
	}
	q := regexp.QuoteMeta(".spec" + ext)
	return &Store{
		SavedDir:    savedDir,
		ScratchDir:  scratchDir,
		Ext:         ext,
		saveName:    regexp.MustCompile(`^[\w-]+` + q + `$`),
		scratchName: regexp.MustCompile(`^autogen-test-.*` + q + `$`),
	}
}

// EnsureDirs creates the saved and scratch directories.
func (s *Store) EnsureDirs() error {
	for _, d := range []string{s.SavedDir, s.ScratchDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

func (s *Store) suffix() string { return ".spec" + s.Ext }

// checkName accepts a bare *.spec<ext> file name with no path components.
func (s *Store) checkName(name string) error {
	if !strings.HasSuffix(name, s.suffix()) || name != filepath.Base(name) ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Save writes code under name, replacing an existing spec of that name.
func (s *Store) Save(name, code string) error {
	if !s.saveName.MatchString(name) {
		return fmt.Errorf("%w: %q must match <letters, digits, _ or ->%s", ErrInvalidName, name, s.suffix())
	}
	if err := os.MkdirAll(s.SavedDir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.SavedDir, name), []byte(code), 0o644)
}

// List returns saved spec names in lexical order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.SavedDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), s.suffix()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Read(name string) (string, error) {
	if err := s.checkName(name); err != nil {
		return "", err
	}
	b, err := os.ReadFile(filepath.Join(s.SavedDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) Delete(name string) error {
	if err := s.checkName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.SavedDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

// CleanScratch removes generated autogen-test-*.spec<ext> files and reports how
// many were deleted. Other files in the scratch directory are left alone.
func (s *Store) CleanScratch() (int, error) {
	entries, err := os.ReadDir(s.ScratchDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !s.scratchName.MatchString(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.ScratchDir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
