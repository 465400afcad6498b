package pump

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/loykin/devlauncher/internal/logsink"
)

// ansiPattern matches CSI escape sequences (colors, cursor movement, erase).
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	return ansiPattern.ReplaceAllString(s, "")
}

// MaxLineBytes caps a single emitted line. Longer output without a newline
// is split into consecutive lines of at most this size.
const MaxLineBytes = 64 * 1024

// Pusher receives pumped lines.
type Pusher interface {
	Push(logsink.Line)
}

// Pump forwards the merged output of one process to a sink, line by line.
type Pump struct {
	Tag  string
	Sink Pusher
}

// Run reads r until EOF and pushes each cleaned line. A trailing partial
// line is flushed at EOF and lines longer than MaxLineBytes are split. A read error produces exactly one error line and
// ends the pump; it is never returned to the caller. When ctx is cancelled r
// is closed (if it is an io.Closer) to unblock the pending read.
func (p Pump) Run(ctx context.Context, r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}
	br := bufio.NewReaderSize(r, MaxLineBytes)
	split := false
	for {
		chunk, err := br.ReadSlice('\n')
		// the newline ending a split line is not a line of its own
		if len(chunk) > 0 && !(split && isLineEnd(chunk)) {
			p.emit(string(chunk))
		}
		split = errors.Is(err, bufio.ErrBufferFull)
		if err == nil || split {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return
		}
		p.Sink.Push(logsink.Line{Tag: p.Tag, Severity: logsink.SeverityError, Text: "log read error: " + err.Error()})
		return
	}
}

func isLineEnd(b []byte) bool {
	return string(b) == "\n" || string(b) == "\r\n"
}

func (p Pump) emit(raw string) {
	raw = strings.TrimRight(raw, "\r\n")
	text := StripANSI(strings.ToValidUTF8(raw, "�"))
	p.Sink.Push(logsink.Line{Tag: p.Tag, Severity: logsink.SeverityService, Text: text})
}
