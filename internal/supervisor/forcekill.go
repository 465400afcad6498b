package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/loykin/devlauncher/internal/history"
	"github.com/loykin/devlauncher/internal/logsink"
	"github.com/loykin/devlauncher/internal/metrics"
	"github.com/loykin/devlauncher/internal/process"
	"github.com/loykin/devlauncher/internal/service"
)

// ForceKillAll is the recovery path for children a previous supervisor lost
// track of. It kills every tracked service, every process recorded in a
// pidfile whose start time still matches, and every process matching the
// configured command-line patterns or executable names. Every tracked
// service ends Stopped. Failures are logged, never returned.
func (s *Supervisor) ForceKillAll(ctx context.Context) {
	s.sink.Logf(logsink.SystemTag, logsink.SeveritySystem, "force killing all service processes")
	exclude := selfPIDs()

	for _, name := range s.order {
		e := s.entries[name]
		e.op.Lock()
		e.mu.RLock()
		h := e.handle
		e.mu.RUnlock()
		if h != nil {
			s.setState(e, service.Stopping)
			s.kill(ctx, e, h)
			s.clear(e, h)
			s.system(e, "killed %s (pid %d)", name, h.PID())
		}
		e.op.Unlock()
	}

	killed := s.killPIDFiles(ctx, exclude)
	killed += s.killMatching(ctx, exclude)
	s.sink.Logf(logsink.SystemTag, logsink.SeveritySystem, "force kill complete, %d orphan process(es) killed", killed)
}

func (s *Supervisor) killPIDFiles(ctx context.Context, exclude []int) int {
	if s.opts.PIDDir == "" {
		return 0
	}
	paths, err := filepath.Glob(filepath.Join(s.opts.PIDDir, "*.pid"))
	if err != nil {
		s.log.Warn("list pidfiles", "dir", s.opts.PIDDir, "error", err)
		return 0
	}
	n := 0
	for _, path := range paths {
		rec, err := process.ReadPIDFile(path)
		switch {
		case err != nil:
			s.log.Warn("read pidfile", "path", path, "error", err)
		case contains(exclude, rec.PID):
		case rec.Matches():
			// the recorded pid led its own group; KillPID covers it if it no longer does
			err := errors.Join(s.opts.Terminator.Kill(rec.PID), process.KillPID(rec.PID))
			if err != nil {
				s.sink.Logf(logsink.SystemTag, logsink.SeverityError, "kill pid %d from %s: %v", rec.PID, filepath.Base(path), err)
			} else {
				s.sink.Logf(logsink.SystemTag, logsink.SeveritySystem, "killed orphan pid %d from %s", rec.PID, filepath.Base(path))
				metrics.IncForceKill(orphanName(path))
				s.record(ctx, history.EventForceKill, orphanName(path), rec.PID, "pidfile")
				n++
			}
		default:
			s.log.Debug("stale pidfile no longer matches a live process", "path", path, "pid", rec.PID)
		}
		if err := process.RemovePIDFile(path); err != nil {
			s.log.Warn("remove pidfile", "path", path, "error", err)
		}
	}
	return n
}

func (s *Supervisor) killMatching(ctx context.Context, exclude []int) int {
	if len(s.opts.ForceKillPatterns) == 0 && len(s.opts.ForceKillImages) == 0 {
		return 0
	}
	m, err := process.NewMatcher(s.opts.ForceKillPatterns, s.opts.ForceKillImages, exclude...)
	if err != nil {
		s.sink.Logf(logsink.SystemTag, logsink.SeverityError, "%v", err)
		return 0
	}
	found, err := m.Find()
	if err != nil {
		s.sink.Logf(logsink.SystemTag, logsink.SeverityError, "scan process table: %v", err)
		return 0
	}
	n := 0
	for _, p := range found {
		if err := process.KillPID(p.PID); err != nil {
			s.sink.Logf(logsink.SystemTag, logsink.SeverityError, "kill %s (pid %d): %v", p.Name, p.PID, err)
			continue
		}
		s.sink.Logf(logsink.SystemTag, logsink.SeveritySystem, "killed %s (pid %d)", p.Name, p.PID)
		metrics.IncForceKill(p.Name)
		s.record(ctx, history.EventForceKill, p.Name, p.PID, p.Cmdline)
		n++
	}
	return n
}

func orphanName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func contains(pids []int, pid int) bool {
	for _, p := range pids {
		if p == pid {
			return true
		}
	}
	return false
}

// selfPIDs are never force-kill targets.
func selfPIDs() []int {
	return []int{os.Getpid(), os.Getppid()}
}
