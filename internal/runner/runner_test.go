//go:build !windows

package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/pwstudio/internal/apperr"
	"github.com/loykin/pwstudio/internal/history"
)

// fakeTool stands in for the test tool: it echoes its arguments with colour
// codes and fails, hangs or passes depending on markers in the script.
const fakeTool = `#!/bin/sh
f="$1"
printf '\033[2mRunning 1 test using 1 worker\033[0m\n'
printf '\033[32m  ok\033[0m %s %s\n' "$f" "$2"
if grep -q HANG "$f"; then sleep 30; fi
if grep -q FAIL "$f"; then
  printf '\033[31m  1 failed\033[0m\r\n' >&2
  exit 1
fi
printf '  1 passed\n'
`

func newRunner(t *testing.T, timeout time.Duration) *Runner {
	t.Helper()
	tool := filepath.Join(t.TempDir(), "pwtest")
	require.NoError(t, os.WriteFile(tool, []byte(fakeTool), 0o755))
	return New(Config{Command: tool, Root: t.TempDir(), Timeout: timeout}, nil)
}

func scratchFiles(t *testing.T, r *Runner) []string {
	t.Helper()
	m, err := filepath.Glob(filepath.Join(r.ScratchDir(), ScratchPrefix+"*.spec.ts"))
	require.NoError(t, err)
	return m
}

const passing = "import { test } from '@playwright/test';\ntest('ok', async () => {});\n"

func TestExecute_ReusesFileForIdenticalBody(t *testing.T) {
	r := newRunner(t, time.Minute)
	ctx := context.Background()

	first, err := r.Execute(ctx, passing)
	require.NoError(t, err)
	assert.False(t, first.Reused)

	second, err := r.Execute(ctx, passing)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.File, second.File)
	assert.Len(t, scratchFiles(t, r), 1)

	third, err := r.Execute(ctx, passing+"// edited\n")
	require.NoError(t, err)
	assert.NotEqual(t, first.File, third.File)
	assert.Len(t, scratchFiles(t, r), 2)
}

func TestExecute_ConcurrentIdenticalBodies(t *testing.T) {
	r := newRunner(t, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Execute(context.Background(), passing)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, scratchFiles(t, r), 1)
}

func TestExecute_ReportIsFencedAndClean(t *testing.T) {
	r := newRunner(t, time.Minute)
	res, err := r.Execute(context.Background(), passing)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Report, "```\n"), res.Report)
	assert.True(t, strings.HasSuffix(res.Report, "\n```"), res.Report)
	assert.NotContains(t, res.Report, "\x1b")
	assert.Contains(t, res.Raw, "\x1b[32m")
	assert.Contains(t, res.Report, "1 passed")
	assert.True(t, res.Passed())
}

func TestExecute_PassesRelativePathAndReporter(t *testing.T) {
	r := newRunner(t, time.Minute)
	res, err := r.Execute(context.Background(), passing)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.RelPath, "playwright-temp/"+ScratchPrefix), res.RelPath)
	assert.True(t, strings.HasSuffix(res.RelPath, ".spec.ts"))
	assert.Contains(t, res.Report, res.RelPath+" --reporter=list")
}

func TestExecute_FailingTestIsNotAnError(t *testing.T) {
	r := newRunner(t, time.Minute)
	res, err := r.Execute(context.Background(), "test('x', () => { expect(1).toBe(2) }) // FAIL\n")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.False(t, res.Passed())
	assert.Contains(t, res.Report, "1 failed")
	assert.NotContains(t, res.Report, "\r")
	assert.True(t, strings.HasSuffix(res.Report, "\n```"))
}

func TestExecute_TimeoutReturnsPartialOutput(t *testing.T) {
	r := newRunner(t, 300*time.Millisecond)
	start := time.Now()
	res, err := r.Execute(context.Background(), "// HANG\n")
	require.Error(t, err)
	assert.Equal(t, apperr.KindExecutionTimeout, apperr.KindOf(err))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Contains(t, res.Report, "Running 1 test")
	assert.True(t, strings.HasPrefix(res.Report, "```\n"))
}

func TestExecute_ContextCancelled(t *testing.T) {
	r := newRunner(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := r.Execute(ctx, "// HANG\n")
	require.Error(t, err)
	assert.Equal(t, apperr.KindExecutionInfrastructure, apperr.KindOf(err))
}

func TestExecute_RestoresRemovedScratchFile(t *testing.T) {
	r := newRunner(t, time.Minute)
	first, err := r.Execute(context.Background(), passing)
	require.NoError(t, err)
	require.NoError(t, os.Remove(first.File))

	second, err := r.Execute(context.Background(), passing)
	require.NoError(t, err)
	assert.Equal(t, first.File, second.File)
	b, err := os.ReadFile(second.File)
	require.NoError(t, err)
	assert.Equal(t, passing, string(b))
}

func TestExecute_MissingTool(t *testing.T) {
	r := New(Config{Command: filepath.Join(t.TempDir(), "nope"), Root: t.TempDir()}, nil)
	_, err := r.Execute(context.Background(), passing)
	require.Error(t, err)
	assert.Equal(t, apperr.KindExecutionInfrastructure, apperr.KindOf(err))
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func TestExecute_EmitsHistory(t *testing.T) {
	r := newRunner(t, time.Minute)
	sink := &memSink{}
	r.SetHistorySinks(sink)

	_, err := r.Execute(context.Background(), "// FAIL\n")
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, history.EventRunFinished, ev.Type)
	assert.Equal(t, "failed", ev.Record.Outcome)
	assert.Equal(t, 1, ev.Record.ExitCode)
	assert.True(t, strings.HasPrefix(ev.Record.ID, ScratchPrefix))
}

func TestExecute_ExpandsEnvOverrides(t *testing.T) {
	t.Setenv("PWSTUDIO_TEST_HOST", "example.test")
	tool := filepath.Join(t.TempDir(), "pwtest")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\necho \"base=$BASE_URL\"\n"), 0o755))
	r := New(Config{
		Command: tool,
		Root:    t.TempDir(),
		Env:     []string{"BASE_URL=https://${PWSTUDIO_TEST_HOST}/app"},
	}, nil)

	res, err := r.Execute(context.Background(), passing)
	require.NoError(t, err)
	assert.Contains(t, res.Report, "base=https://example.test/app")
}

func TestExecute_UnrestorableCachedFileGetsNewName(t *testing.T) {
	r := newRunner(t, time.Minute)
	ctx := context.Background()

	first, err := r.Execute(ctx, passing)
	require.NoError(t, err)
	require.NoError(t, os.Remove(first.File))
	// a dangling link makes the rewrite at the old path fail
	require.NoError(t, os.Symlink(filepath.Join(t.TempDir(), "missing", "x"), first.File))

	second, err := r.Execute(ctx, passing)
	require.NoError(t, err)
	assert.False(t, second.Reused)
	assert.NotEqual(t, first.File, second.File)
	assert.Contains(t, second.Report, "1 passed")
}
