package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Handle owns one spawned OS process. It is held by exactly one service
// entry and never shared.
type Handle struct {
	cmd       *exec.Cmd
	pid       int
	term      Terminator
	output    *os.File
	startedAt time.Time

	done    chan struct{} // closed once cmd.Wait returns
	mu      sync.Mutex
	exitErr error
}

// Start spawns cmd with stdout and stderr merged into a single pipe and
// prepared for tree termination by term (DefaultTerminator when nil). The
// returned handle's Output must be drained by the caller.
func Start(cmd *exec.Cmd, term Terminator) (*Handle, error) {
	if term == nil {
		term = DefaultTerminator()
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdin = nil
	cmd.Stdout = pw
	cmd.Stderr = pw
	term.Prepare(cmd)

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	// The child holds its own copy of the write end; ours must go so the
	// reader sees EOF once the process tree exits.
	_ = pw.Close()

	h := &Handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		term:      term,
		output:    pr,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.exitErr = err
	h.mu.Unlock()
	close(h.done)
}

// PID returns the OS process id.
func (h *Handle) PID() int { return h.pid }

// StartedAt returns the spawn time.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Output is the read end of the merged stdout/stderr pipe.
func (h *Handle) Output() *os.File { return h.output }

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsAlive reports whether the process is still running. It never blocks.
func (h *Handle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the result of cmd.Wait; nil while running or on a clean exit.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// ExitDescription renders the exit result for log lines.
func (h *Handle) ExitDescription() string {
	if h.IsAlive() {
		return "running"
	}
	err := h.ExitErr()
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// TreeAlive reports whether the process or any member of its tree is still
// running. It can stay true after Done when a descendant ignored the
// termination request.
func (h *Handle) TreeAlive() bool {
	return h.IsAlive() || h.term.Alive(h.pid)
}

// RequestGracefulTermination asks the whole process tree to terminate.
func (h *Handle) RequestGracefulTermination() error {
	return h.term.Terminate(h.pid)
}

// WaitFor blocks the caller until the process exits or timeout elapses and
// reports whether the exit was observed.
func (h *Handle) WaitFor(timeout time.Duration) bool {
	if timeout <= 0 {
		return !h.IsAlive()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.done:
		return true
	case <-t.C:
		return false
	}
}

// ForceKill unconditionally kills the process tree. It is safe to call on a
// process that has already exited.
func (h *Handle) ForceKill() error {
	err := h.term.Kill(h.pid)
	if h.IsAlive() {
		if kerr := h.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = errors.Join(err, kerr)
		}
	}
	return err
}

// CloseOutput closes the read end of the output pipe, unblocking a pump that
// is still reading because a stray descendant kept the write end open.
func (h *Handle) CloseOutput() error {
	return h.output.Close()
}
