package logsink

import (
	"fmt"
	"time"
)

// Severity classifies a log line for rendering.
type Severity string

const (
	SeverityService Severity = "service" // raw output of a supervised service
	SeverityInfo    Severity = "info"
	SeveritySystem  Severity = "system" // supervisor lifecycle announcements
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// SystemTag tags lines the supervisor emits about itself rather than a service.
const SystemTag = "devlauncher"

// Line is one immutable entry of the log stream.
type Line struct {
	Time     time.Time `json:"time"`
	Tag      string    `json:"tag"`
	Severity Severity  `json:"severity"`
	Text     string    `json:"text"`
}

// Render formats the line as "[HH:MM:SS] [tag] text".
func (l Line) Render() string {
	return fmt.Sprintf("[%s] [%s] %s", l.Time.Format("15:04:05"), l.Tag, l.Text)
}
