//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// groupTerminator places each service in its own process group and signals
// the group, which reaches every descendant that did not call setsid.
type groupTerminator struct{}

// DefaultTerminator returns the process-group strategy on POSIX systems.
func DefaultTerminator() Terminator { return groupTerminator{} }

func (groupTerminator) Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func (groupTerminator) Terminate(pid int) error { return signalGroup(pid, syscall.SIGTERM) }

func (groupTerminator) Kill(pid int) error { return signalGroup(pid, syscall.SIGKILL) }

// Alive probes the process group with signal 0. EPERM still means the
// group has members.
func (groupTerminator) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(-pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
