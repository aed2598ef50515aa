package process

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"
)

// waitDelay bounds how long Wait keeps draining stdout/stderr pipes after the
// child exits, in case a grandchild still holds them open.
const waitDelay = 2 * time.Second

// ErrNotStarted is returned by operations that need a spawned process.
var ErrNotStarted = errors.New("process not started")

// Process owns one subprocess and its state machine. A single waiter goroutine,
// started by Start, owns cmd.Wait; everyone else observes exit through Done.
type Process struct {
	spec     Spec
	mu       sync.Mutex
	cmd      *exec.Cmd
	state    State
	pid      int
	started  time.Time
	exit     Exit
	signaled bool
	done     chan struct{} // closed by the waiter once exit is recorded
}

func New(spec Spec) *Process {
	return &Process{spec: spec, state: StateNew, done: make(chan struct{})}
}

// Spec returns the spec the process was built from.
func (p *Process) Spec() Spec { return p.spec }

// Start spawns the process with its own process group and returns once exec has
// succeeded. It never waits for the process to finish.
func (p *Process) Start(stdout, stderr io.Writer) error {
	p.mu.Lock()
	if p.state != StateNew {
		p.mu.Unlock()
		return errors.New("process " + p.spec.Name + " already started")
	}
	p.mu.Unlock()

	cmd := p.spec.BuildCommand()
	if p.spec.WorkDir != "" {
		cmd.Dir = p.spec.WorkDir
	}
	if len(p.spec.Env) > 0 {
		cmd.Env = p.spec.Env
	}
	configureSysProcAttr(cmd)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Start(); err != nil {
		return err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.started = time.Now()
	p.state = StateSpawned
	p.mu.Unlock()

	go p.wait(cmd)
	return nil
}

func (p *Process) wait(cmd *exec.Cmd) {
	p.mu.Lock()
	p.state = StateRunning
	p.mu.Unlock()

	err := cmd.Wait()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	p.mu.Lock()
	p.state = StateExited
	p.exit = Exit{Code: code, Err: err, Signaled: p.signaled, StoppedAt: time.Now()}
	p.mu.Unlock()
	close(p.done)
}

// Done is closed once the process has exited and its status is final.
func (p *Process) Done() <-chan struct{} { return p.done }

// AwaitExit suspends until the process exits or ctx is done.
func (p *Process) AwaitExit(ctx context.Context) (Exit, error) {
	if p.State() == StateNew {
		return Exit{}, ErrNotStarted
	}
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exit, nil
	case <-ctx.Done():
		return Exit{}, ctx.Err()
	}
}

// Terminate asks the whole process group to exit (SIGTERM on Unix).
func (p *Process) Terminate() error { return p.signal(false) }

// Kill forcibly ends the whole process group.
func (p *Process) Kill() error { return p.signal(true) }

func (p *Process) signal(force bool) error {
	p.mu.Lock()
	pid := p.pid
	state := p.state
	if state == StateSpawned || state == StateRunning {
		p.signaled = true
	}
	p.mu.Unlock()
	switch state {
	case StateNew:
		return ErrNotStarted
	case StateExited:
		return nil
	}
	return signalGroup(pid, force)
}

// Stop terminates the process and waits up to grace for it to exit before killing it.
// It always waits for the final exit.
func (p *Process) Stop(grace time.Duration) Exit {
	if p.State() == StateNew {
		return Exit{}
	}
	_ = p.Terminate()
	if grace > 0 {
		t := time.NewTimer(grace)
		select {
		case <-p.done:
			t.Stop()
		case <-t.C:
			_ = p.Kill()
		}
	}
	ex, _ := p.AwaitExit(context.Background())
	return ex
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PID returns the OS pid, or 0 before Start.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Name:      p.spec.Name,
		State:     p.state,
		PID:       p.pid,
		StartedAt: p.started,
		StoppedAt: p.exit.StoppedAt,
		ExitCode:  p.exit.Code,
		ExitErr:   p.exit.Err,
	}
}
