package process

import (
	"context"
	"io"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func TestStartTransitionsToExited(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "p1", Command: "sh -c 'exit 0'"})
	if p.State() != StateNew {
		t.Fatalf("initial state = %s", p.State())
	}
	if err := p.Start(io.Discard, io.Discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.PID() <= 0 {
		t.Fatalf("pid not recorded")
	}
	ex, err := p.AwaitExit(context.Background())
	if err != nil {
		t.Fatalf("AwaitExit: %v", err)
	}
	if ex.Code != 0 || ex.Err != nil || ex.Signaled {
		t.Fatalf("unexpected exit: %+v", ex)
	}
	st := p.Snapshot()
	if st.State != StateExited || st.Running() {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestNonZeroExitIsReported(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "p2", Command: "sh -c 'exit 3'"})
	if err := p.Start(io.Discard, io.Discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ex, _ := p.AwaitExit(context.Background())
	if ex.Code != 3 || ex.Err == nil {
		t.Fatalf("expected exit 3, got %+v", ex)
	}
}

func TestStartTwiceFails(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "twice", Command: "sh -c 'exit 0'"})
	if err := p.Start(io.Discard, io.Discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(io.Discard, io.Discard); err == nil {
		t.Fatalf("expected second Start to fail")
	}
	<-p.Done()
}

func TestStartMissingBinary(t *testing.T) {
	p := New(Spec{Name: "missing", Command: "/definitely/not/here/bin"})
	if err := p.Start(io.Discard, io.Discard); err == nil {
		t.Fatalf("expected spawn error")
	}
	if p.State() != StateNew {
		t.Fatalf("state should stay new after failed spawn, got %s", p.State())
	}
	if _, err := p.AwaitExit(context.Background()); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestStopTerminatesGroup(t *testing.T) {
	requireUnix(t)
	// the shell forks sleep; both must go away with the group signal
	p := New(Spec{Name: "sleeper", Command: "sh -c 'sleep 30; echo never'"})
	var out SyncBuffer
	if err := p.Start(&out, &out); err != nil {
		t.Fatalf("Start: %v", err)
	}
	start := time.Now()
	ex := p.Stop(2 * time.Second)
	if !ex.Signaled {
		t.Fatalf("expected signaled exit, got %+v", ex)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("stop took too long: %v", time.Since(start))
	}
	if strings.Contains(out.String(), "never") {
		t.Fatalf("process was not terminated")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "stubborn", Command: "sh -c 'trap \"\" TERM; while true; do sleep 0.05; done'"})
	if err := p.Start(io.Discard, io.Discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	done := make(chan Exit, 1)
	go func() { done <- p.Stop(200 * time.Millisecond) }()
	select {
	case ex := <-done:
		if ex.Code == 0 {
			t.Fatalf("expected non-zero exit after kill, got %+v", ex)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stop did not escalate to kill")
	}
}

func TestAwaitExitHonoursContext(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "ctx", Command: "sleep 5"})
	if err := p.Start(io.Discard, io.Discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.AwaitExit(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCombinedOutputCapture(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "both", Command: "sh -c 'echo out; echo err 1>&2'"})
	var buf SyncBuffer
	if err := p.Start(&buf, &buf); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-p.Done()
	got := buf.String()
	if !strings.Contains(got, "out") || !strings.Contains(got, "err") {
		t.Fatalf("combined output missing streams: %q", got)
	}
}

func TestChunkWriterForwards(t *testing.T) {
	requireUnix(t)
	var mu sync.Mutex
	var chunks []string
	w := ChunkWriter(func(c string) {
		mu.Lock()
		chunks = append(chunks, c)
		mu.Unlock()
	})
	p := New(Spec{Name: "chunks", Command: "sh -c 'echo warn 1>&2'"})
	if err := p.Start(io.Discard, w); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-p.Done()
	mu.Lock()
	defer mu.Unlock()
	if len(chunks) == 0 || !strings.Contains(strings.Join(chunks, ""), "warn") {
		t.Fatalf("stderr not forwarded: %#v", chunks)
	}
}

func TestSignalBeforeStart(t *testing.T) {
	p := New(Spec{Name: "idle", Command: "true"})
	if err := p.Terminate(); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if ex := p.Stop(time.Second); ex.Code != 0 {
		t.Fatalf("stop on unstarted process should be a no-op: %+v", ex)
	}
}

func TestUsage(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "usage", Command: "sleep 5"})
	if _, err := p.Usage(); err == nil {
		t.Fatalf("usage before start should fail")
	}
	if err := p.Start(io.Discard, io.Discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(time.Second)

	u, err := p.Usage()
	if err != nil {
		if runtime.GOOS == "linux" {
			t.Fatalf("Usage: %v", err)
		}
		t.Skipf("usage not available: %v", err)
	}
	if u.RSSBytes == 0 {
		t.Fatalf("expected non-zero RSS: %+v", u)
	}

	p.Stop(time.Second)
	if _, err := p.Usage(); err == nil {
		t.Fatalf("usage after exit should fail")
	}
}
