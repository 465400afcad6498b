package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/browser"

	"github.com/loykin/devlauncher/internal/logsink"
	"github.com/loykin/devlauncher/internal/service"
)

// Controller is the subset of the supervisor the console drives.
type Controller interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	StartAll(ctx context.Context) error
	StopAll(ctx context.Context) error
	RestartAll(ctx context.Context) error
	ForceKillAll(ctx context.Context)
	Status() []service.Status
}

// Options configures a Console.
type Options struct {
	In         io.Reader
	Out        io.Writer
	Color      bool
	BrowserURL string
	Backend    string // service restarted by "rb"
	Frontend   string // service restarted by "rf"
	OpenURL    func(url string) error
	Logger     *slog.Logger
}

// Console is the line-oriented presentation layer: it prints the log stream
// and turns typed commands into supervisor calls.
type Console struct {
	ctl  Controller
	sink *logsink.Sink
	opts Options
	log  *slog.Logger

	mu sync.Mutex // serializes writes to Out
}

func New(ctl Controller, sink *logsink.Sink, opts Options) *Console {
	if opts.OpenURL == nil {
		opts.OpenURL = browser.OpenURL
	}
	if opts.Backend == "" {
		opts.Backend = "backend"
	}
	if opts.Frontend == "" {
		opts.Frontend = "frontend"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Console{ctl: ctl, sink: sink, opts: opts, log: opts.Logger.With("component", "console")}
}

// PrintLogs renders the log stream until the sink is closed or ctx ends.
func (c *Console) PrintLogs(ctx context.Context) error {
	return c.sink.Run(ctx, c.printLine)
}

// Run reads commands until quit, end of input or ctx cancellation. Quit stops
// every service before returning; the other two leave that to the caller.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.opts.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if c.Execute(ctx, line) {
				return nil
			}
			c.prompt()
		}
	}
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) (quit bool) {
	cmd, err := Parse(line)
	if err != nil {
		c.sink.Logf(logsink.SystemTag, logsink.SeverityError, "%v (type help)", err)
		return false
	}
	switch cmd.Action {
	case ActionNone:
	case ActionStartAll:
		c.report(c.ctl.StartAll(ctx))
	case ActionStopAll:
		c.report(c.ctl.StopAll(ctx))
	case ActionRestartAll:
		c.report(c.ctl.RestartAll(ctx))
	case ActionRestartBackend:
		c.report(c.ctl.Restart(ctx, c.opts.Backend))
	case ActionRestartFrontend:
		c.report(c.ctl.Restart(ctx, c.opts.Frontend))
	case ActionStart:
		c.report(c.ctl.Start(ctx, cmd.Service))
	case ActionStop:
		c.report(c.ctl.Stop(ctx, cmd.Service))
	case ActionRestart:
		c.report(c.ctl.Restart(ctx, cmd.Service))
	case ActionStatus:
		c.printStatus(c.ctl.Status())
	case ActionForceKillAll:
		c.ctl.ForceKillAll(ctx)
	case ActionClearLogs:
		c.clear()
	case ActionOpenBrowser:
		c.openBrowser()
	case ActionHelp:
		c.write(helpText)
	case ActionQuit:
		c.sink.Logf(logsink.SystemTag, logsink.SeveritySystem, "exiting, stopping all services")
		c.report(c.ctl.StopAll(ctx))
		return true
	}
	return false
}

// report surfaces failures the supervisor has not already logged. Misuse
// errors (already running, not running, unknown service) and spawn failures
// have their own lines in the stream.
func (c *Console) report(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	c.log.Debug("command failed", "error", err)
}

func (c *Console) openBrowser() {
	url := c.opts.BrowserURL
	if url == "" {
		c.sink.Logf(logsink.SystemTag, logsink.SeverityWarning, "no browser url configured")
		return
	}
	if err := c.opts.OpenURL(url); err != nil {
		c.sink.Logf(logsink.SystemTag, logsink.SeverityError, "open browser: %v", err)
		return
	}
	c.sink.Logf(logsink.SystemTag, logsink.SeveritySystem, "opened browser: %s", url)
}

func (c *Console) clear() {
	// pending lines belong to the screen being cleared
	c.sink.Drain(0)
	if c.opts.Color {
		c.write("\033[H\033[2J")
	}
}

func (c *Console) prompt() {
	c.write(c.paint(ansiYellow, "> "))
}

func (c *Console) printStatus(sts []service.Status) {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 50) + "\n")
	for _, st := range sts {
		state := st.Lifecycle.String()
		color := ansiRed
		if st.Lifecycle == service.Running && st.Alive {
			state = fmt.Sprintf("running (pid %d, up %s)", st.PID, time.Since(st.StartedAt).Round(time.Second))
			color = ansiGreen
		} else if st.Lifecycle != service.Stopped {
			color = ansiYellow
		}
		if st.Lifecycle == service.Stopped && st.LastExit != "" {
			state += " (last exit: " + st.LastExit + ")"
		}
		fmt.Fprintf(&b, "  %-10s %s\n", st.Name+":", c.paint(color, state))
	}
	b.WriteString(strings.Repeat("=", 50) + "\n")
	c.write(b.String())
}

func (c *Console) printLine(l logsink.Line) {
	ts := "[" + l.Time.Format("15:04:05") + "] "
	var text string
	switch l.Severity {
	case logsink.SeverityService:
		text = ts + c.paint(tagColor(l.Tag), "["+l.Tag+"]") + " " + l.Text
	case logsink.SeveritySystem:
		text = c.paint(ansiCyan, ts+"["+l.Tag+"] "+l.Text)
	case logsink.SeverityWarning:
		text = c.paint(ansiYellow, ts+"["+l.Tag+"] "+l.Text)
	case logsink.SeverityError:
		text = c.paint(ansiRed, ts+"["+l.Tag+"] "+l.Text)
	default:
		text = ts + "[" + l.Tag + "] " + l.Text
	}
	c.write(text + "\n")
}

func (c *Console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.opts.Out, s)
}

const (
	ansiReset   = "\033[0m"
	ansiRed     = "\033[91m"
	ansiGreen   = "\033[92m"
	ansiYellow  = "\033[93m"
	ansiBlue    = "\033[94m"
	ansiMagenta = "\033[95m"
	ansiCyan    = "\033[96m"
)

var tagPalette = []string{ansiBlue, ansiGreen, ansiMagenta, ansiCyan, ansiYellow}

func tagColor(tag string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tag))
	return tagPalette[h.Sum32()%uint32(len(tagPalette))]
}

func (c *Console) paint(color, s string) string {
	if !c.opts.Color {
		return s
	}
	return color + s + ansiReset
}
