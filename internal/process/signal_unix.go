//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// signalGroup sends SIGTERM (or SIGKILL when force is set) to the process group led by pid.
func signalGroup(pid int, force bool) error {
	if pid <= 0 {
		return ErrNotStarted
	}
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		// group already gone; the waiter will observe the exit
		return nil
	}
	return err
}
