package service

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Spec describes one manageable service. It is created once when the
// supervisor is configured and never mutated afterwards.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Tag     string   `json:"tag" mapstructure:"tag"`           // display tag used to prefix log lines
	Command []string `json:"command" mapstructure:"command"`   // executable followed by its arguments
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"` // optional working dir
	Env     []string `json:"env" mapstructure:"env"`           // optional extra env (KEY=VALUE)
}

// DisplayTag returns the tag used for log prefixing, falling back to Name.
func (s Spec) DisplayTag() string {
	if s.Tag != "" {
		return s.Tag
	}
	return s.Name
}

// Validate checks that the spec can be used to spawn a process.
func (s Spec) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return errors.New("service name is required")
	}
	if strings.ContainsAny(name, " \t\n\r/\\<>:\"|?*") {
		return fmt.Errorf("service %q: name contains invalid characters", name)
	}
	if len(s.Command) == 0 || strings.TrimSpace(s.Command[0]) == "" {
		return fmt.Errorf("service %q requires command", name)
	}
	for i, kv := range s.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("service %q: env[%d] %q is invalid, must be in KEY=VALUE format", name, i, kv)
		}
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec. The environment is the
// supplied base (typically the merged OS environment) followed by Env
// overrides; a nil base leaves cmd.Env unset so the child inherits ours.
func (s Spec) BuildCommand(base []string) *exec.Cmd {
	// #nosec G204
	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if base != nil {
		cmd.Env = base
	}
	return cmd
}

// ParseCommand splits a command string into argv. It avoids invoking a shell
// when not necessary, and it respects an explicit shell invocation already
// present in the string (e.g. "sh -c 'echo hi'") without double-wrapping.
func ParseCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return nil
	}
	if shell, afterC, ok := parseExplicitShell(cmdStr); ok {
		return []string{shell, "-c", afterC}
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellArgv(cmdStr)
	}
	return strings.Fields(cmdStr)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr. It preserves the substring after "-c " verbatim
// apart from one pair of enclosing quotes.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c ", "bash -c ", "/bin/bash -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
