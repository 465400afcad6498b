//go:build windows

package process

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Windows creation flags
const (
	CREATE_NEW_PROCESS_GROUP = 0x00000200
	CREATE_NO_WINDOW         = 0x08000000
)

// treeTerminator walks the descendants of a pid and terminates them leaves
// first. Windows has no process-group signal, and console-less children
// cannot receive Ctrl+Break, so both phases end the tree forcibly.
type treeTerminator struct{}

// DefaultTerminator returns the PID-tree strategy on Windows.
func DefaultTerminator() Terminator { return treeTerminator{} }

func (treeTerminator) Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= CREATE_NEW_PROCESS_GROUP | CREATE_NO_WINDOW
}

func (t treeTerminator) Terminate(pid int) error { return t.Kill(pid) }

func (treeTerminator) Kill(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	root, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		// already gone
		return nil
	}
	var errs []error
	for _, p := range descendantsLeavesFirst(root) {
		if err := p.Kill(); err != nil {
			if ok, _ := gopsproc.PidExists(p.Pid); ok {
				errs = append(errs, fmt.Errorf("kill pid %d: %w", p.Pid, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Alive only sees the root: Windows does not track orphaned descendants,
// and Terminate already kills the whole tree.
func (treeTerminator) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, _ := gopsproc.PidExists(int32(pid))
	return ok
}

// descendantsLeavesFirst returns the tree rooted at p in post-order so
// children die before a parent can respawn them.
func descendantsLeavesFirst(p *gopsproc.Process) []*gopsproc.Process {
	var out []*gopsproc.Process
	if children, err := p.Children(); err == nil {
		for _, c := range children {
			out = append(out, descendantsLeavesFirst(c)...)
		}
	}
	return append(out, p)
}
