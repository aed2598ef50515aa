// Package recorder supervises the interactive codegen subprocess. At most one
// recording runs at a time; its generated script is captured when it exits.
package recorder

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/loykin/pwstudio/internal/apperr"
	"github.com/loykin/pwstudio/internal/env"
	"github.com/loykin/pwstudio/internal/history"
	"github.com/loykin/pwstudio/internal/logger"
	"github.com/loykin/pwstudio/internal/metrics"
	"github.com/loykin/pwstudio/internal/process"
)

const (
	DefaultCommand    = "npx playwright codegen"
	DefaultOutputFlag = "--output"
	DefaultStopGrace  = 5 * time.Second

	artifactExt = ".ts"
)

// ErrAlreadyRecording is delivered by Start while another session is active.
var ErrAlreadyRecording = apperr.New(apperr.KindAlreadyRecording, "a recording is already in progress")

// ErrorFunc receives advisory diagnostics: recorder stderr, abnormal exits and
// launch failures.
type ErrorFunc func(msg string)

type Config struct {
	Command     string        // recorder executable plus fixed arguments
	OutputFlag  string        // flag that receives the artifact path as flag=path
	ArtifactDir string        // where artifacts are written; defaults to <tmp>/pwstudio-recordings
	WorkDir     string        // cwd of the recorder
	Env         []string      // KEY=VALUE overrides on the service environment, ${VAR} expanded
	StopGrace   time.Duration // SIGTERM to SIGKILL escalation delay
	Logs        logger.Config // optional tee of subprocess output
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	if c.OutputFlag == "" {
		c.OutputFlag = DefaultOutputFlag
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = filepath.Join(os.TempDir(), "pwstudio-recordings")
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	return c
}

// Supervisor owns the single recording slot.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	active    *Session // set only by Start, cleared only by the exit handler
	last      *Session // most recent session, kept for the Stop fallback read
	captured  *string
	histSinks []history.Sink
}

func New(cfg Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{cfg: cfg.withDefaults(), log: log.With("component", "recorder")}
}

// SetHistorySinks replaces the sinks that receive recording events.
func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.histSinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

// Start launches a recording of url and returns without waiting for it. The
// returned channel yields exactly one value: nil once the subprocess is
// spawned, ErrAlreadyRecording, or an execution_infrastructure error.
func (s *Supervisor) Start(url string, onError ErrorFunc) <-chan error {
	res := make(chan error, 1)
	if onError == nil {
		onError = func(string) {}
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		metrics.IncRecordingRejected()
		s.log.Warn("start rejected, recording in progress", "url", url)
		onError(ErrAlreadyRecording.Msg)
		res <- ErrAlreadyRecording
		return res
	}
	sess, err := s.launch(url, onError)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("recorder launch failed", "url", url, "error", err)
		onError(err.Error())
		res <- err
		return res
	}
	s.active = sess
	s.last = sess
	s.captured = nil
	s.mu.Unlock()

	metrics.IncRecordingStarted()
	s.log.Info("recording started", "id", sess.ID, "url", url, "pid", sess.proc.PID(), "artifact", sess.ArtifactPath)
	go s.handleExit(sess, onError)
	res <- nil
	return res
}

// launch spawns the recorder. Caller holds s.mu.
func (s *Supervisor) launch(url string, onError ErrorFunc) (*Session, error) {
	const op = "recorder.start"
	if err := os.MkdirAll(s.cfg.ArtifactDir, 0o750); err != nil {
		return nil, apperr.Wrap(apperr.KindExecutionInfrastructure, op, err)
	}
	id := ulid.Make().String()
	sess := &Session{
		ID:           id,
		URL:          url,
		ArtifactPath: filepath.Join(s.cfg.ArtifactDir, "autogen-"+id+artifactExt),
		done:         make(chan struct{}),
	}

	spec := process.Spec{
		Name:    "recorder",
		Command: s.cfg.Command,
		Args:    []string{fmt.Sprintf("%s=%s", s.cfg.OutputFlag, sess.ArtifactPath), url},
		WorkDir: s.cfg.WorkDir,
	}
	if len(s.cfg.Env) > 0 {
		spec.Env = env.New().Merge(s.cfg.Env)
	}
	if err := spec.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindExecutionInfrastructure, op, err)
	}

	outLog, errLog, err := s.cfg.Logs.Writers("recorder")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExecutionInfrastructure, op, err)
	}
	sess.closers = closers(outLog, errLog)

	log := s.log.With("id", id)
	diag := process.ChunkWriter(func(chunk string) {
		log.Warn("recorder stderr", "chunk", chunk)
		onError(chunk)
	})
	var stdout io.Writer
	var stderr io.Writer = diag
	if outLog != nil {
		stdout = outLog
		stderr = io.MultiWriter(diag, errLog)
	}

	// The watcher must exist before the recorder can write the artifact.
	sess.watch(log)
	sess.proc = process.New(spec)
	if err := sess.proc.Start(stdout, stderr); err != nil {
		sess.unwatch()
		sess.closeLogs()
		return nil, apperr.Wrap(apperr.KindExecutionInfrastructure, op, err)
	}
	sess.StartedAt = time.Now()
	return sess, nil
}

// handleExit is the only path that fills captured and clears the active slot.
func (s *Supervisor) handleExit(sess *Session, onError ErrorFunc) {
	sinks := s.sinks()
	rec := sess.record()
	// Slow sinks must not delay capture; finished is still sent after started.
	started := make(chan struct{})
	go func() {
		defer close(started)
		for _, sk := range sinks {
			history.Emit(sk, s.log, history.Event{Type: history.EventRecordingStarted, OccurredAt: sess.StartedAt.UTC(), Record: rec})
		}
	}()

	<-sess.proc.Done()
	ex := sess.proc.Snapshot()
	sess.unwatch()
	sess.closeLogs()

	if ex.ExitCode != 0 {
		onError(fmt.Sprintf("recorder exited with code %d", ex.ExitCode))
	}
	code, err := readArtifact(sess.ArtifactPath)
	if err != nil {
		s.log.Warn("recorder artifact unavailable", "id", sess.ID, "path", sess.ArtifactPath,
			"error", apperr.Wrap(apperr.KindArtifactUnavailable, "recorder.capture", err))
	}

	s.mu.Lock()
	s.captured = &code
	if s.active == sess {
		s.active = nil
	}
	s.mu.Unlock()
	close(sess.done)

	metrics.RecordingFinished(ex.ExitCode, len(code))
	s.log.Info("recording finished", "id", sess.ID, "exit_code", ex.ExitCode, "bytes", len(code))

	<-started
	rec.FinishedAt = ex.StoppedAt.UTC()
	rec.ExitCode = ex.ExitCode
	rec.Bytes = len(code)
	for _, sk := range sinks {
		history.Emit(sk, s.log, history.Event{Type: history.EventRecordingFinished, Record: rec})
	}
}

// Stop ends the active recording, waits for it to exit and returns the
// captured script. It never fails; "" means nothing could be read.
func (s *Supervisor) Stop() string {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()

	if sess != nil {
		s.log.Info("stopping recording", "id", sess.ID, "pid", sess.proc.PID())
		ex := sess.proc.Stop(s.cfg.StopGrace)
		<-sess.done
		s.log.Debug("recorder stopped", "id", sess.ID, "exit_code", ex.Code, "signaled", ex.Signaled)
	}

	s.mu.Lock()
	if s.captured != nil {
		code := *s.captured
		s.captured = nil
		s.mu.Unlock()
		return code
	}
	last := s.last
	s.mu.Unlock()

	if last == nil {
		return ""
	}
	code, err := readArtifact(last.ArtifactPath)
	if err != nil {
		s.log.Debug("stop fallback read failed", "path", last.ArtifactPath, "error", err)
		return ""
	}
	return code
}

// Peek hands out the captured script once. ok is false when there is nothing
// new since the last delivery.
func (s *Supervisor) Peek() (code string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captured == nil {
		return "", false
	}
	code = *s.captured
	s.captured = nil
	return code, true
}

// Status reports the current slot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{Pending: s.captured != nil}
	sess := s.active
	if sess != nil {
		st.Recording = true
		st.ID = sess.ID
		st.PID = sess.proc.PID()
		st.URL = sess.URL
		st.ArtifactPath = sess.ArtifactPath
		st.StartedAt = sess.StartedAt
		st.ArtifactBytes = sess.bytes.Load()
	}
	s.mu.Unlock()

	if sess != nil {
		if u, err := sess.proc.Usage(); err == nil {
			st.Usage = &u
		} else {
			s.log.Debug("recorder usage unavailable", "id", sess.ID, "error", err)
		}
	}
	return st
}

// Shutdown stops an active recording, discarding nothing: the captured script
// stays available to Peek.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()
	if sess == nil {
		return
	}
	s.log.Info("shutdown: stopping active recording", "id", sess.ID)
	sess.proc.Stop(s.cfg.StopGrace)
	<-sess.done
}

func (s *Supervisor) sinks() []history.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Sink(nil), s.histSinks...)
}

func readArtifact(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
