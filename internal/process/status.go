package process

import "time"

// State is the lifecycle position of a Process. Transitions only move forward:
// new -> spawned -> running -> exited.
type State string

const (
	StateNew     State = "new"
	StateSpawned State = "spawned" // exec succeeded, exit not yet observed by a waiter
	StateRunning State = "running" // a waiter goroutine owns cmd.Wait
	StateExited  State = "exited"
)

// Status is a point-in-time copy of a Process.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitCode  int       `json:"exit_code"`
	ExitErr   error     `json:"-"`
}

// Running reports whether the process has been spawned and has not exited.
func (s Status) Running() bool { return s.State == StateSpawned || s.State == StateRunning }

// Exit is what AwaitExit hands back once the process is gone.
type Exit struct {
	Code      int
	Err       error // raw cmd.Wait error; nil on a clean zero exit
	Signaled  bool  // terminated by Terminate/Kill
	StoppedAt time.Time
}
