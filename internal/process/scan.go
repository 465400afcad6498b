package process

import (
	"fmt"
	"regexp"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Matcher selects processes by command line or executable name.
type Matcher struct {
	Patterns []*regexp.Regexp // matched against the full command line
	Images   []string         // compared case-insensitively with the executable name
	Exclude  map[int]bool     // pids never selected (e.g. ourselves)
}

// NewMatcher compiles command-line patterns.
func NewMatcher(patterns, images []string, exclude ...int) (*Matcher, error) {
	m := &Matcher{Images: images, Exclude: make(map[int]bool, len(exclude))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid force-kill pattern %q: %w", p, err)
		}
		m.Patterns = append(m.Patterns, re)
	}
	for _, pid := range exclude {
		m.Exclude[pid] = true
	}
	return m, nil
}

// Match is one selected process.
type Match struct {
	PID     int
	Name    string
	Cmdline string
}

func (m *Matcher) matches(name, cmdline string) bool {
	for _, img := range m.Images {
		if strings.EqualFold(img, name) {
			return true
		}
	}
	if cmdline == "" {
		return false
	}
	for _, re := range m.Patterns {
		if re.MatchString(cmdline) {
			return true
		}
	}
	return false
}

// Find scans the process table. Processes whose details cannot be read
// (permissions, exited mid-scan) are skipped.
func (m *Matcher) Find() ([]Match, error) {
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, err
	}
	var out []Match
	for _, p := range procs {
		pid := int(p.Pid)
		if pid <= 0 || m.Exclude[pid] {
			continue
		}
		name, _ := p.Name()
		cmdline, _ := p.Cmdline()
		if m.matches(name, cmdline) {
			out = append(out, Match{PID: pid, Name: name, Cmdline: cmdline})
		}
	}
	return out, nil
}

// KillPID kills a single process by pid. A pid that no longer exists is not
// an error.
func KillPID(pid int) error {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil {
		if ok, _ := gopsproc.PidExists(int32(pid)); !ok {
			return nil
		}
		return err
	}
	return nil
}
