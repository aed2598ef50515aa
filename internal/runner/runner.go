// Package runner materialises a test script into a scratch file and runs the
// test tool against it, returning its normalised combined output.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/pwstudio/internal/apperr"
	"github.com/loykin/pwstudio/internal/cache"
	"github.com/loykin/pwstudio/internal/env"
	"github.com/loykin/pwstudio/internal/history"
	"github.com/loykin/pwstudio/internal/logger"
	"github.com/loykin/pwstudio/internal/metrics"
	"github.com/loykin/pwstudio/internal/process"
)

const (
	DefaultCommand  = "npx playwright test"
	DefaultReporter = "list"
	DefaultExt      = ".ts"
	DefaultTimeout  = 5 * time.Minute

	// ScratchPrefix starts every generated test file name.
	ScratchPrefix = "autogen-test-"
)

type Config struct {
	Command    string        // test tool plus fixed arguments
	Reporter   string        // value of --reporter
	Root       string        // execution root; the tool runs with this cwd
	ScratchDir string        // generated files; defaults to <Root>/playwright-temp
	Ext        string        // script extension, ".ts" or ".js"
	Timeout    time.Duration // 0 waits forever
	Env        []string      // KEY=VALUE overrides on the service environment, ${VAR} expanded
	Logs       logger.Config
}

// Result is the outcome of one Execute call. A failing test is a normal Result.
type Result struct {
	Raw      string        `json:"-"`
	Report   string        `json:"output"`
	ExitCode int           `json:"exit_code"`
	File     string        `json:"file"`
	RelPath  string        `json:"rel_path"`
	Reused   bool          `json:"reused"`
	Duration time.Duration `json:"duration"`
}

// Passed reports whether the test tool exited cleanly.
func (r Result) Passed() bool { return r.ExitCode == 0 }

type Runner struct {
	cfg  Config
	log  *slog.Logger
	slot cache.Slot

	mu        sync.Mutex
	histSinks []history.Sink
}

func New(cfg Config, log *slog.Logger) *Runner {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Reporter == "" {
		cfg.Reporter = DefaultReporter
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if abs, err := filepath.Abs(cfg.Root); err == nil {
		cfg.Root = abs
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(cfg.Root, "playwright-temp")
	} else if !filepath.IsAbs(cfg.ScratchDir) {
		cfg.ScratchDir = filepath.Join(cfg.Root, cfg.ScratchDir)
	}
	if cfg.Ext == "" {
		cfg.Ext = DefaultExt
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cfg: cfg, log: log.With("component", "runner")}
}

func (r *Runner) SetHistorySinks(sinks ...history.Sink) {
	r.mu.Lock()
	r.histSinks = append([]history.Sink(nil), sinks...)
	r.mu.Unlock()
}

// ScratchDir returns the directory generated test files live in.
func (r *Runner) ScratchDir() string { return r.cfg.ScratchDir }

// Execute writes body to a scratch file (reusing the previous one when body is
// unchanged), runs the test tool on it and waits for it to finish. A non-zero
// exit is reported through Result, not as an error. On timeout the partial
// Result is returned together with an execution_timeout error.
func (r *Runner) Execute(ctx context.Context, body string) (Result, error) {
	const op = "runner.execute"
	start := time.Now()

	if err := os.MkdirAll(r.cfg.ScratchDir, 0o750); err != nil {
		return r.fail(op, start, err)
	}
	path, reused, err := r.slot.Resolve(body,
		func() (string, error) { return r.writeScratch(body) },
		func(p string) error { return restore(p, body) },
	)
	if err != nil {
		return r.fail(op, start, err)
	}
	metrics.IncScratchFile(reused)

	rel, err := filepath.Rel(r.cfg.Root, path)
	if err != nil {
		return r.fail(op, start, err)
	}
	rel = filepath.ToSlash(rel)
	res := Result{File: path, RelPath: rel, Reused: reused}

	spec := process.Spec{
		Name:    "runner",
		Command: r.cfg.Command,
		Args:    []string{rel, "--reporter=" + r.cfg.Reporter},
		WorkDir: r.cfg.Root,
	}
	if len(r.cfg.Env) > 0 {
		spec.Env = env.New().Merge(r.cfg.Env)
	}
	outLog, errLog, err := r.cfg.Logs.Writers("runner")
	if err != nil {
		return r.fail(op, start, err)
	}
	var combined process.SyncBuffer
	var stdout, stderr io.Writer = &combined, &combined
	if outLog != nil {
		defer func() { _ = outLog.Close(); _ = errLog.Close() }()
		stdout = io.MultiWriter(&combined, outLog)
		stderr = io.MultiWriter(&combined, errLog)
	}

	p := process.New(spec)
	if err := p.Start(stdout, stderr); err != nil {
		return r.fail(op, start, err)
	}
	r.log.Debug("test run started", "file", rel, "pid", p.PID(), "reused", reused)

	waitCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	ex, waitErr := p.AwaitExit(waitCtx)
	if waitErr != nil {
		_ = p.Kill()
		ex, _ = p.AwaitExit(context.Background())
	}

	res.Raw = combined.String()
	res.Report = Report(res.Raw)
	res.ExitCode = ex.Code
	res.Duration = time.Since(start)

	outcome := metrics.OutcomePassed
	var runErr error
	switch {
	case waitErr != nil && ctx.Err() != nil:
		outcome = metrics.OutcomeError
		runErr = apperr.Wrap(apperr.KindExecutionInfrastructure, op, ctx.Err())
	case waitErr != nil:
		outcome = metrics.OutcomeTimeout
		runErr = &apperr.Error{Kind: apperr.KindExecutionTimeout, Op: op,
			Msg: fmt.Sprintf("test run exceeded %s", r.cfg.Timeout), Err: waitErr}
	case ex.Code != 0:
		outcome = metrics.OutcomeFailed
	}
	metrics.ObserveRun(outcome, res.Duration.Seconds())
	r.log.Info("test run finished", "file", rel, "exit_code", ex.Code, "outcome", outcome,
		"reused", reused, "duration", res.Duration.Round(time.Millisecond))

	rec := history.Record{
		ID:         filepath.Base(path),
		Target:     rel,
		PID:        p.PID(),
		StartedAt:  start.UTC(),
		FinishedAt: time.Now().UTC(),
		ExitCode:   ex.Code,
		Bytes:      len(res.Raw),
		Outcome:    outcome,
		Reused:     reused,
	}
	for _, sk := range r.sinks() {
		history.Emit(sk, r.log, history.Event{Type: history.EventRunFinished, Record: rec})
	}
	return res, runErr
}

func (r *Runner) fail(op string, start time.Time, err error) (Result, error) {
	metrics.ObserveRun(metrics.OutcomeError, time.Since(start).Seconds())
	r.log.Error("test run failed", "error", err)
	return Result{}, apperr.Wrap(apperr.KindExecutionInfrastructure, op, err)
}

// writeScratch creates a new autogen-test-<millis>.spec<ext> file. A name that
// already exists is never overwritten; the timestamp is bumped instead.
func (r *Runner) writeScratch(body string) (string, error) {
	ms := time.Now().UnixMilli()
	for i := 0; i < 1000; i++ {
		path := filepath.Join(r.cfg.ScratchDir, fmt.Sprintf("%s%d.spec%s", ScratchPrefix, ms+int64(i), r.cfg.Ext))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.WriteString(body); err != nil {
			_ = f.Close()
			return "", err
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("no free scratch file name in %s", r.cfg.ScratchDir)
}

// restore rewrites a cached scratch file that was removed, keeping its name.
func restore(path, body string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(body), 0o644)
}

func (r *Runner) sinks() []history.Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.Sink(nil), r.histSinks...)
}
