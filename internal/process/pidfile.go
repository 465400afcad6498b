package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDRecord is the content of a service pidfile: the pid on the first line
// and the process start time (Unix seconds) on the second.
type PIDRecord struct {
	PID       int
	StartUnix int64
}

func (r PIDRecord) encode() []byte {
	return []byte(strconv.Itoa(r.PID) + "\n" + strconv.FormatInt(r.StartUnix, 10) + "\n")
}

// WritePIDFile atomically replaces path with rec, creating parent dirs.
func WritePIDFile(path string, rec PIDRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return writeFileAtomic(path, rec.encode(), 0o600)
}

// ReadPIDFile parses a file written by WritePIDFile. Files holding only a
// pid are accepted with StartUnix 0.
func ReadPIDFile(path string) (PIDRecord, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return PIDRecord{}, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil || pid <= 0 {
		return PIDRecord{}, fmt.Errorf("pidfile %s: invalid pid %q", path, strings.TrimSpace(pidLine))
	}
	rec := PIDRecord{PID: pid}
	if startLine, _, _ := strings.Cut(rest, "\n"); strings.TrimSpace(startLine) != "" {
		if v, err := strconv.ParseInt(strings.TrimSpace(startLine), 10, 64); err == nil {
			rec.StartUnix = v
		}
	}
	return rec, nil
}

// RemovePIDFile removes path; a missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Matches reports whether rec still describes a live process: the pid must
// exist and, when a start time was recorded, start within a second of it.
func (r PIDRecord) Matches() bool {
	now := StartTime(r.PID)
	if now == 0 {
		return false
	}
	if r.StartUnix == 0 {
		return true
	}
	d := now - r.StartUnix
	return d >= -1 && d <= 1
}
