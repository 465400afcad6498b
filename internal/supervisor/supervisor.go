package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vawter.tech/stopper"

	"github.com/loykin/devlauncher/internal/env"
	"github.com/loykin/devlauncher/internal/history"
	"github.com/loykin/devlauncher/internal/logsink"
	"github.com/loykin/devlauncher/internal/metrics"
	"github.com/loykin/devlauncher/internal/process"
	"github.com/loykin/devlauncher/internal/pump"
	"github.com/loykin/devlauncher/internal/service"
)

// Defaults for the tunable delays.
const (
	DefaultGracePeriod     = 5 * time.Second
	DefaultRestartDelay    = time.Second
	DefaultStartAllDelay   = 2 * time.Second
	DefaultRestartAllDelay = 1500 * time.Millisecond
	DefaultReapWindow      = 200 * time.Millisecond
	DefaultDrainTimeout    = 2 * time.Second
)

// Options tunes a Supervisor. Zero durations select the defaults above; use
// a negative value to disable a delay entirely.
type Options struct {
	GracePeriod     time.Duration
	RestartDelay    time.Duration
	StartAllDelay   time.Duration
	RestartAllDelay time.Duration
	ReapWindow      time.Duration // bounded wait after a force kill
	DrainTimeout    time.Duration // how long a pump may outlive its process

	PIDDir            string   // empty disables pidfiles
	ForceKillPatterns []string // regexps matched against command lines
	ForceKillImages   []string // executable names, case-insensitive

	Terminator process.Terminator
	Env        *env.Env
	History    history.Sink
	Logger     *slog.Logger
}

func (o *Options) applyDefaults() {
	def := func(d *time.Duration, v time.Duration) {
		switch {
		case *d == 0:
			*d = v
		case *d < 0:
			*d = 0
		}
	}
	def(&o.GracePeriod, DefaultGracePeriod)
	def(&o.RestartDelay, DefaultRestartDelay)
	def(&o.StartAllDelay, DefaultStartAllDelay)
	def(&o.RestartAllDelay, DefaultRestartAllDelay)
	def(&o.ReapWindow, DefaultReapWindow)
	def(&o.DrainTimeout, DefaultDrainTimeout)
	if o.Terminator == nil {
		o.Terminator = process.DefaultTerminator()
	}
	if o.Env == nil {
		o.Env = env.New(true, nil)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// entry is the supervisor-owned state of one service.
//
// Lock order: op before mu. op serializes start/stop/restart and is held for
// the whole operation, including grace waits. mu guards the fields and is
// only held for short reads and writes so Status never waits behind a stop.
type entry struct {
	spec service.Spec

	op sync.Mutex

	mu        sync.RWMutex
	lifecycle service.Lifecycle
	handle    *process.Handle
	pid       int
	startedAt time.Time
	lastExit  string
}

// Supervisor owns the configured services and their processes.
type Supervisor struct {
	opts    Options
	sink    *logsink.Sink
	log     *slog.Logger
	order   []string
	entries map[string]*entry

	sctx   *stopper.Context
	closed atomic.Bool
}

// New builds a Supervisor for specs, in the given start order. Pumps and
// exit watchers run until Close.
func New(ctx context.Context, specs []service.Spec, sink *logsink.Sink, opts Options) (*Supervisor, error) {
	if sink == nil {
		return nil, errors.New("supervisor: log sink is required")
	}
	if len(specs) == 0 {
		return nil, errors.New("supervisor: no services configured")
	}
	opts.applyDefaults()
	s := &Supervisor{
		opts:    opts,
		sink:    sink,
		log:     opts.Logger.With("component", "supervisor"),
		entries: make(map[string]*entry, len(specs)),
		// watchers outlive the caller's context; Close stops them
		sctx: stopper.WithContext(context.WithoutCancel(ctx)),
	}
	for _, sp := range specs {
		if err := sp.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.entries[sp.Name]; dup {
			return nil, fmt.Errorf("supervisor: duplicate service name %q", sp.Name)
		}
		s.entries[sp.Name] = &entry{spec: sp}
		s.order = append(s.order, sp.Name)
	}
	return s, nil
}

// Names returns the configured service names in start order.
func (s *Supervisor) Names() []string {
	return append([]string(nil), s.order...)
}

// Sink returns the log stream the supervisor writes to.
func (s *Supervisor) Sink() *logsink.Sink { return s.sink }

func (s *Supervisor) lookup(name string) (*entry, error) {
	e, ok := s.entries[name]
	if !ok {
		s.sink.Logf(logsink.SystemTag, logsink.SeverityWarning, "unknown service %q", name)
		return nil, &OpError{Op: "lookup", Service: name, Err: ErrUnknownService}
	}
	return e, nil
}

// Start spawns the named service. It fails with ErrAlreadyRunning unless
// the service is Stopped; a Running entry whose process already exited is
// reaped first. After Start returns the service is either Running with a
// live pid or Stopped with an error line in the log stream.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	return s.start(ctx, e)
}

// Stop terminates the named service's process tree, escalating to a force
// kill after the grace period. It always leaves the service Stopped and
// returns ErrNotRunning only when there was nothing to stop.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	return s.stop(ctx, e)
}

// Restart stops the service (if running), waits the settle delay so the OS
// can release its ports, and starts it again. Once the stop has completed
// the start always follows; a cancelled ctx only shortens the grace wait.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()

	s.system(e, "restarting %s", e.spec.Name)
	err = s.stop(ctx, e)
	switch {
	case err == nil:
		_ = sleepCtx(context.WithoutCancel(ctx), s.opts.RestartDelay)
	case !errors.Is(err, ErrNotRunning):
		return err
	}
	return s.start(context.WithoutCancel(ctx), e)
}

// StartAll starts every service in configured order. After a service is
// spawned the next one waits StartAllDelay, giving dependants a chance to
// find it listening. Already running services are skipped silently.
func (s *Supervisor) StartAll(ctx context.Context) error {
	var errs MultiError
	spawned := false
	for _, name := range s.order {
		if spawned {
			if err := sleepCtx(ctx, s.opts.StartAllDelay); err != nil {
				errs.Add(err)
				return errs.Err()
			}
		}
		err := s.Start(ctx, name)
		spawned = err == nil
		if err != nil && !expected(err) {
			errs.Add(err)
		}
	}
	return errs.Err()
}

// StopAll stops every service in reverse start order.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var errs MultiError
	for i := len(s.order) - 1; i >= 0; i-- {
		if err := s.Stop(ctx, s.order[i]); err != nil && !expected(err) {
			errs.Add(err)
		}
	}
	return errs.Err()
}

// RestartAll stops everything, waits RestartAllDelay and starts everything.
// Like Restart, the start phase is not abandoned once services were stopped.
func (s *Supervisor) RestartAll(ctx context.Context) error {
	s.sink.Logf(logsink.SystemTag, logsink.SeveritySystem, "restarting all services")
	var errs MultiError
	errs.Add(s.StopAll(ctx))
	ctx = context.WithoutCancel(ctx)
	_ = sleepCtx(ctx, s.opts.RestartAllDelay)
	errs.Add(s.StartAll(ctx))
	return errs.Err()
}

// Status returns a snapshot of every service in configured order. It never
// waits for an in-flight operation.
func (s *Supervisor) Status() []service.Status {
	out := make([]service.Status, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		e.mu.RLock()
		st := service.Status{
			Name:      e.spec.Name,
			Tag:       e.spec.DisplayTag(),
			Lifecycle: e.lifecycle,
			PID:       e.pid,
			StartedAt: e.startedAt,
			LastExit:  e.lastExit,
		}
		if e.handle != nil {
			st.Alive = e.handle.IsAlive()
		}
		e.mu.RUnlock()
		out = append(out, st)
	}
	return out
}

// StatusOf returns the snapshot of a single service.
func (s *Supervisor) StatusOf(name string) (service.Status, error) {
	if _, ok := s.entries[name]; !ok {
		return service.Status{}, &OpError{Op: "status", Service: name, Err: ErrUnknownService}
	}
	for _, st := range s.Status() {
		if st.Name == name {
			return st, nil
		}
	}
	return service.Status{}, &OpError{Op: "status", Service: name, Err: ErrUnknownService}
}

// Close stops every service, waits for pumps and watchers and closes the
// log sink and history. It is safe to call more than once.
func (s *Supervisor) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs MultiError
	errs.Add(s.StopAll(ctx))
	s.sctx.Stop(s.opts.DrainTimeout)
	errs.Add(s.sctx.Wait())
	if s.opts.History != nil {
		errs.Add(s.opts.History.Close())
	}
	s.sink.Logf(logsink.SystemTag, logsink.SeveritySystem, "supervisor stopped")
	s.sink.Close()
	return errs.Err()
}

func (s *Supervisor) start(ctx context.Context, e *entry) error {
	name := e.spec.Name
	if s.closed.Load() {
		return &OpError{Op: OpStart, Service: name, Err: ErrClosed}
	}

	e.mu.RLock()
	lc, h, pid := e.lifecycle, e.handle, e.pid
	e.mu.RUnlock()
	if lc == service.Running && h != nil && !h.IsAlive() {
		s.reapExited(ctx, e, h)
		lc = service.Stopped
	}
	if lc != service.Stopped {
		s.system(e, "%s is already %s (pid %d)", name, lc, pid)
		return &OpError{Op: OpStart, Service: name, Err: ErrAlreadyRunning}
	}

	s.setState(e, service.Starting)
	cmd := e.spec.BuildCommand(s.opts.Env.Merge(e.spec.Env))
	h, err := process.Start(cmd, s.opts.Terminator)
	if err != nil {
		s.setState(e, service.Stopped)
		s.sink.Push(logsink.Line{Tag: e.spec.DisplayTag(), Severity: logsink.SeverityError,
			Text: fmt.Sprintf("failed to start %s: %v", name, err)})
		metrics.IncSpawnFailure(name)
		s.record(ctx, history.EventSpawnFailure, name, 0, err.Error())
		return &OpError{Op: OpStart, Service: name, Err: &SpawnError{Command: strings.Join(e.spec.Command, " "), Err: err}}
	}

	e.mu.Lock()
	e.handle = h
	e.pid = h.PID()
	e.startedAt = h.StartedAt()
	e.lastExit = ""
	e.mu.Unlock()
	s.setState(e, service.Running)

	s.writePIDFile(e, h)
	s.system(e, "started %s (pid %d)", name, h.PID())
	s.log.Info("service started", "name", name, "pid", h.PID(), "cmd", e.spec.Command, "dir", e.spec.WorkDir)
	metrics.IncStart(name)
	s.record(ctx, history.EventStart, name, h.PID(), "")

	pumpDone := make(chan struct{})
	p := pump.Pump{Tag: e.spec.DisplayTag(), Sink: s.sink}
	s.sctx.Go(func(sctx *stopper.Context) error {
		defer close(pumpDone)
		p.Run(sctx, h.Output())
		return nil
	})
	s.sctx.Go(func(sctx *stopper.Context) error {
		s.watch(sctx, e, h, pumpDone)
		return nil
	})
	return nil
}

func (s *Supervisor) stop(ctx context.Context, e *entry) error {
	name := e.spec.Name
	e.mu.RLock()
	lc, h := e.lifecycle, e.handle
	e.mu.RUnlock()
	if lc == service.Stopped || h == nil {
		s.system(e, "%s is not running", name)
		return &OpError{Op: OpStop, Service: name, Err: ErrNotRunning}
	}

	s.setState(e, service.Stopping)
	s.system(e, "stopping %s (pid %d)", name, h.PID())
	if err := h.RequestGracefulTermination(); err != nil {
		s.warn(e, "terminate %s (pid %d): %v", name, h.PID(), err)
	}
	switch waitExit(ctx, h, s.opts.GracePeriod) {
	case graceExpired:
		if h.IsAlive() {
			s.warn(e, "%s did not exit within %s, killing", name, s.opts.GracePeriod)
		} else {
			s.warn(e, "%s exited but its process group is still alive after %s, killing", name, s.opts.GracePeriod)
		}
		s.kill(ctx, e, h)
	case waitCancelled:
		s.warn(e, "stop of %s cancelled before it exited, killing", name)
		s.kill(ctx, e, h)
	}

	s.clear(e, h)
	s.system(e, "stopped %s (%s)", name, h.ExitDescription())
	metrics.IncStop(name)
	s.record(ctx, history.EventStop, name, h.PID(), h.ExitDescription())
	return nil
}

// kill force-kills h and waits the short reap window.
func (s *Supervisor) kill(ctx context.Context, e *entry, h *process.Handle) {
	if err := h.ForceKill(); err != nil {
		s.sink.Push(logsink.Line{Tag: e.spec.DisplayTag(), Severity: logsink.SeverityError,
			Text: fmt.Sprintf("kill %s (pid %d): %v", e.spec.Name, h.PID(), err)})
	}
	metrics.IncForceKill(e.spec.Name)
	s.record(ctx, history.EventForceKill, e.spec.Name, h.PID(), "")
	if !h.WaitFor(s.opts.ReapWindow) {
		s.log.Warn("process not reaped after kill", "name", e.spec.Name, "pid", h.PID())
	}
}

// watch waits for h to exit and reaps it if no operation did. It then gives
// the pump DrainTimeout to reach EOF before closing the pipe under it, since
// a descendant that left the process group can hold the write end open.
func (s *Supervisor) watch(sctx *stopper.Context, e *entry, h *process.Handle, pumpDone <-chan struct{}) {
	select {
	case <-h.Done():
	case <-sctx.Stopping():
		return
	}

	e.op.Lock()
	s.reapExited(sctx, e, h)
	e.op.Unlock()

	t := time.NewTimer(s.opts.DrainTimeout)
	defer t.Stop()
	select {
	case <-pumpDone:
	case <-t.C:
		s.log.Debug("closing output of exited service", "name", e.spec.Name, "pid", h.PID())
		_ = h.CloseOutput()
	case <-sctx.Stopping():
	}
}

// reapExited clears an association whose process exited on its own. The
// caller holds e.op. It does nothing when h is no longer current.
func (s *Supervisor) reapExited(ctx context.Context, e *entry, h *process.Handle) {
	e.mu.RLock()
	current := e.handle == h && e.lifecycle == service.Running
	e.mu.RUnlock()
	if !current {
		return
	}
	desc := h.ExitDescription()
	s.system(e, "%s exited (pid %d): %s", e.spec.Name, h.PID(), desc)
	// members of the group may have outlived the leader
	if h.TreeAlive() {
		s.log.Info("killing leftover process group", "name", e.spec.Name, "pgid", h.PID())
		if err := h.ForceKill(); err != nil {
			s.log.Warn("kill leftover group", "name", e.spec.Name, "pid", h.PID(), "error", err)
		}
	}
	metrics.IncUnexpectedExit(e.spec.Name)
	s.record(ctx, history.EventUnexpectedExit, e.spec.Name, h.PID(), desc)
	s.setState(e, service.Stopping)
	s.clear(e, h)
}

// clear drops the association with h and returns the entry to Stopped.
func (s *Supervisor) clear(e *entry, h *process.Handle) {
	e.mu.Lock()
	if e.handle == h {
		e.handle = nil
		e.pid = 0
		e.lastExit = h.ExitDescription()
	}
	e.mu.Unlock()
	s.setState(e, service.Stopped)
	s.removePIDFile(e)
}

func (s *Supervisor) setState(e *entry, to service.Lifecycle) {
	e.mu.Lock()
	from := e.lifecycle
	e.lifecycle = to
	e.mu.Unlock()
	metrics.RecordStateTransition(e.spec.Name, from.String(), to.String())
	s.log.Debug("state transition", "name", e.spec.Name, "from", from, "to", to)
}

func (s *Supervisor) pidPath(name string) string {
	return filepath.Join(s.opts.PIDDir, name+".pid")
}

func (s *Supervisor) writePIDFile(e *entry, h *process.Handle) {
	if s.opts.PIDDir == "" {
		return
	}
	rec := process.PIDRecord{PID: h.PID(), StartUnix: process.StartTime(h.PID())}
	if err := process.WritePIDFile(s.pidPath(e.spec.Name), rec); err != nil {
		s.log.Warn("write pidfile", "name", e.spec.Name, "error", err)
	}
}

func (s *Supervisor) removePIDFile(e *entry) {
	if s.opts.PIDDir == "" {
		return
	}
	if err := process.RemovePIDFile(s.pidPath(e.spec.Name)); err != nil {
		s.log.Warn("remove pidfile", "name", e.spec.Name, "error", err)
	}
}

func (s *Supervisor) record(ctx context.Context, t history.EventType, name string, pid int, detail string) {
	if s.opts.History == nil {
		return
	}
	ev := history.Event{Type: t, Service: name, PID: pid, OccurredAt: time.Now().UTC(), Detail: detail}
	if err := s.opts.History.Send(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("record history", "name", name, "event", t, "error", err)
	}
}

func (s *Supervisor) system(e *entry, format string, args ...any) {
	s.sink.Logf(e.spec.DisplayTag(), logsink.SeveritySystem, format, args...)
}

func (s *Supervisor) warn(e *entry, format string, args ...any) {
	s.sink.Logf(e.spec.DisplayTag(), logsink.SeverityWarning, format, args...)
}

type waitResult int

const (
	treeExited waitResult = iota
	graceExpired
	waitCancelled
)

// treePollInterval paces the group check once the direct child is gone.
const treePollInterval = 50 * time.Millisecond

// waitExit waits up to grace for h and every member of its process tree to
// exit. A cancelled ctx cuts the wait short so the caller escalates
// immediately.
func waitExit(ctx context.Context, h *process.Handle, grace time.Duration) waitResult {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	select {
	case <-h.Done():
	case <-deadline.C:
		return graceExpired
	case <-ctx.Done():
		if h.TreeAlive() {
			return waitCancelled
		}
		return treeExited
	}

	tick := time.NewTicker(treePollInterval)
	defer tick.Stop()
	for h.TreeAlive() {
		select {
		case <-tick.C:
		case <-deadline.C:
			return graceExpired
		case <-ctx.Done():
			return waitCancelled
		}
	}
	return treeExited
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
