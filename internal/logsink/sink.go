package logsink

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/loykin/devlauncher/internal/metrics"
)

// DefaultMaxBuffered bounds memory when the consumer stops draining.
const DefaultMaxBuffered = 100_000

// Sink is an ordered multi-producer/single-consumer queue of log lines.
// Push never waits for the consumer: when the buffer is full the oldest line
// is discarded. Lines keep the order in which each producer pushed them;
// lines from different producers interleave in arrival order.
type Sink struct {
	mu      sync.Mutex
	buf     []Line
	max     int
	dropped uint64
	closed  bool
	mirror  io.Writer

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Sink.
type Option func(*Sink)

// WithMirror copies every rendered line to w (e.g. a rotating log file).
func WithMirror(w io.Writer) Option {
	return func(s *Sink) { s.mirror = w }
}

// WithMaxBuffered overrides DefaultMaxBuffered; n <= 0 means unbounded.
func WithMaxBuffered(n int) Option {
	return func(s *Sink) { s.max = n }
}

func New(opts ...Option) *Sink {
	s := &Sink{
		max:   DefaultMaxBuffered,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Push appends a line. A zero Time is stamped with the current time.
func (s *Sink) Push(l Line) {
	if l.Time.IsZero() {
		l.Time = time.Now()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.max > 0 && len(s.buf) >= s.max {
		s.buf = s.buf[1:]
		s.dropped++
		metrics.IncLogDropped()
	}
	s.buf = append(s.buf, l)
	if s.mirror != nil {
		_, _ = io.WriteString(s.mirror, l.Render()+"\n")
	}
	s.mu.Unlock()

	metrics.IncLogLine(l.Tag, string(l.Severity))
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Logf pushes a formatted line.
func (s *Sink) Logf(tag string, sev Severity, format string, args ...any) {
	s.Push(Line{Tag: tag, Severity: sev, Text: fmt.Sprintf(format, args...)})
}

// Drain removes and returns up to max buffered lines (all when max <= 0).
// It never blocks.
func (s *Sink) Drain(max int) []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.buf)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}
	out := make([]Line, n)
	copy(out, s.buf[:n])
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return out
}

// Ready is signalled (coalesced) whenever new lines are pushed.
func (s *Sink) Ready() <-chan struct{} { return s.ready }

// Done is closed by Close.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Run is the consumer loop: it hands every line to fn in order until ctx is
// cancelled or the sink is closed. After Close, remaining lines are flushed
// before Run returns nil.
func (s *Sink) Run(ctx context.Context, fn func(Line)) error {
	for {
		for _, l := range s.Drain(0) {
			fn(l)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ready:
		case <-s.done:
			for _, l := range s.Drain(0) {
				fn(l)
			}
			return nil
		}
	}
}

// Len reports the number of buffered lines.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Dropped reports how many lines were discarded due to the buffer bound.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close rejects further pushes and releases the consumer. Buffered lines
// remain drainable.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}
