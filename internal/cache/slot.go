// Package cache provides the single-entry content cache that lets the runner
// reuse the scratch file of the previous run when the script is unchanged.
package cache

import "sync"

// Slot remembers one key/value pair. Keys compare by exact string equality.
// The zero value is ready to use.
type Slot struct {
	mu    sync.Mutex
	key   string
	value string
	set   bool
}

// Get returns the value stored for key, if key is the current entry.
func (s *Slot) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || s.key != key {
		return "", false
	}
	return s.value, true
}

// Resolve returns the cached value for key or calls create and stores its
// result. The check and the update happen under one lock, so concurrent
// callers with different keys cannot interleave. revalidate, when non-nil, is
// called on a hit and may repair the cached value (for example a file removed
// behind our back); if it fails the entry is dropped and create runs instead.
func (s *Slot) Resolve(key string, create func() (string, error), revalidate func(string) error) (value string, hit bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set && s.key == key {
		if revalidate == nil || revalidate(s.value) == nil {
			return s.value, true, nil
		}
		s.key, s.value, s.set = "", "", false
	}
	v, err := create()
	if err != nil {
		return "", false, err
	}
	s.key, s.value, s.set = key, v, true
	return v, false, nil
}

// Reset forgets the current entry.
func (s *Slot) Reset() {
	s.mu.Lock()
	s.key, s.value, s.set = "", "", false
	s.mu.Unlock()
}
