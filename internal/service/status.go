package service

import (
	"fmt"
	"time"
)

// Lifecycle is the supervisor-side state of a service.
//
// Stopped -> Starting -> Running -> Stopping -> Stopped
type Lifecycle int32

const (
	Stopped Lifecycle = iota
	Starting
	Running
	Stopping
)

func (l Lifecycle) String() string {
	switch l {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText lets status snapshots render the lifecycle by name.
func (l Lifecycle) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Lifecycle) UnmarshalText(b []byte) error {
	for _, c := range []Lifecycle{Stopped, Starting, Running, Stopping} {
		if c.String() == string(b) {
			*l = c
			return nil
		}
	}
	return fmt.Errorf("unknown lifecycle %q", b)
}

// Status is a read-only snapshot of one service.
type Status struct {
	Name      string    `json:"name"`
	Tag       string    `json:"tag"`
	Lifecycle Lifecycle `json:"lifecycle"`
	PID       int       `json:"pid,omitempty"`
	Alive     bool      `json:"alive"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastExit  string    `json:"last_exit,omitempty"`
}
