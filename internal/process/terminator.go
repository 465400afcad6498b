package process

import "os/exec"

// Terminator is the platform strategy for ending a whole process tree, not
// just the direct child. DefaultTerminator selects the implementation for
// the build target.
type Terminator interface {
	// Prepare configures cmd before Start so its descendants can be
	// addressed as one unit later.
	Prepare(cmd *exec.Cmd)
	// Terminate requests a graceful shutdown of the tree rooted at pid.
	Terminate(pid int) error
	// Kill ends the tree rooted at pid unconditionally. A tree that no
	// longer exists is not an error.
	Kill(pid int) error
	// Alive reports whether any process of the tree rooted at pid is still
	// running, including descendants that outlived pid itself.
	Alive(pid int) bool
}
