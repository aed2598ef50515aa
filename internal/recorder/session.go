package recorder

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/pwstudio/internal/history"
	"github.com/loykin/pwstudio/internal/process"
)

// Session is one recording. Only the Supervisor touches it.
type Session struct {
	ID           string
	URL          string
	ArtifactPath string
	StartedAt    time.Time

	proc    *process.Process
	done    chan struct{} // closed after captured is set and the slot cleared
	bytes   atomic.Int64  // live artifact size
	watcher *fsnotify.Watcher
	closers []io.Closer
}

// Status is the externally visible state of the recording slot.
type Status struct {
	Recording     bool      `json:"recording"`
	ID            string    `json:"id,omitempty"`
	PID           int       `json:"pid,omitempty"`
	URL           string    `json:"url,omitempty"`
	ArtifactPath  string    `json:"artifact_path,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	ArtifactBytes int64     `json:"artifact_bytes"`
	Pending       bool      `json:"pending"` // a captured script has not been delivered yet

	Usage *process.Usage `json:"usage,omitempty"` // resource sample of the recorder while recording
}

func (s *Session) record() history.Record {
	return history.Record{
		ID:        s.ID,
		Target:    s.URL,
		PID:       s.proc.PID(),
		StartedAt: s.StartedAt.UTC(),
	}
}

// watch follows the artifact file so Status can show progress. The recorder
// may create the file late, so the directory is watched.
func (s *Session) watch(log *slog.Logger) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug("artifact watcher unavailable", "error", err)
		return
	}
	if err := w.Add(filepath.Dir(s.ArtifactPath)); err != nil {
		_ = w.Close()
		log.Debug("artifact watcher unavailable", "error", err)
		return
	}
	s.watcher = w
	s.refreshBytes()
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.ArtifactPath {
					continue
				}
				if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					s.bytes.Store(0)
					continue
				}
				s.refreshBytes()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Debug("artifact watcher error", "error", err)
			}
		}
	}()
}

func (s *Session) refreshBytes() {
	if fi, err := os.Stat(s.ArtifactPath); err == nil {
		s.bytes.Store(fi.Size())
	}
}

func (s *Session) unwatch() {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

func (s *Session) closeLogs() {
	for _, c := range s.closers {
		_ = c.Close()
	}
	s.closers = nil
}

func closers(ws ...io.WriteCloser) []io.Closer {
	var out []io.Closer
	for _, w := range ws {
		if w != nil {
			out = append(out, w)
		}
	}
	return out
}
