package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/devlauncher/internal/config"
	"github.com/loykin/devlauncher/internal/console"
	"github.com/loykin/devlauncher/internal/env"
	"github.com/loykin/devlauncher/internal/history/factory"
	"github.com/loykin/devlauncher/internal/logger"
	"github.com/loykin/devlauncher/internal/logsink"
	"github.com/loykin/devlauncher/internal/metrics"
	"github.com/loykin/devlauncher/internal/server"
	"github.com/loykin/devlauncher/internal/service"
	"github.com/loykin/devlauncher/internal/supervisor"
)

const shutdownTimeout = 5 * time.Second

// runLauncher is the interactive session: it starts the services, prints
// the log stream and serves console commands until quit, end of input or
// an interrupt. Every path ends with all services stopped.
func runLauncher(ctx context.Context, flags *GlobalFlags, runFlags *RunFlags, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if runFlags.HTTPAddr != "" {
		cfg.HTTP.Addr = runFlags.HTTPAddr
	}

	lc := cfg.LogConfig()
	level, err := logger.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	log := logger.New(os.Stderr, level)
	slog.SetDefault(log)

	var sinkOpts []logsink.Option
	if mirror := lc.Mirror(); mirror != nil {
		defer func() { _ = mirror.Close() }()
		sinkOpts = append(sinkOpts, logsink.WithMirror(mirror))
	}
	sink := logsink.New(sinkOpts...)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	sup, err := newSupervisor(ctx, cfg, sink, log)
	if err != nil {
		return err
	}
	registerResourceCollector(sup, log)

	if cfg.HTTP.Addr != "" {
		srv, err := server.NewServer(cfg.HTTP.Addr, cfg.HTTP.BasePath, sup, log)
		if err != nil {
			_ = sup.Close(context.Background())
			return fmt.Errorf("http listen %s: %w", cfg.HTTP.Addr, err)
		}
		sink.Logf(logsink.SystemTag, logsink.SeveritySystem, "control API on http://%s%s", srv.Addr, cfg.HTTP.BasePath)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	con := console.New(sup, sink, console.Options{
		In:         in,
		Out:        out,
		Color:      !runFlags.NoColor && isTerminal(out),
		BrowserURL: cfg.Browser.URL,
		Backend:    backendName(sup.Names()),
		Frontend:   frontendName(sup.Names()),
		Logger:     log,
	})

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	var g errgroup.Group
	// the printer outlives sigCtx so shutdown lines are still shown
	g.Go(func() error { return con.PrintLogs(context.WithoutCancel(ctx)) })
	g.Go(func() error {
		if !runFlags.NoAutostart {
			_ = sup.StartAll(sigCtx)
		}
		var runErr error
		if sigCtx.Err() == nil {
			runErr = con.Run(sigCtx)
		}
		if sigCtx.Err() != nil {
			sink.Logf(logsink.SystemTag, logsink.SeveritySystem, "interrupted, stopping all services")
		}
		// a second interrupt terminates immediately
		stopSignals()
		return errors.Join(runErr, sup.Close(context.Background()))
	})
	if err := g.Wait(); err != nil {
		log.Debug("launcher exited with errors", "error", err)
	}
	return nil
}

// newSupervisor wires config, environment and history into a supervisor.
func newSupervisor(ctx context.Context, cfg *config.FileConfig, sink *logsink.Sink, log *slog.Logger) (*supervisor.Supervisor, error) {
	if log == nil {
		log = slog.Default()
	}
	specs, err := cfg.Specs()
	if err != nil {
		return nil, err
	}
	globalEnv, err := cfg.GlobalEnv()
	if err != nil {
		return nil, err
	}
	opts := cfg.SupervisorOptions()
	opts.Env = env.New(cfg.UseOSEnv, globalEnv)
	opts.Logger = log
	if cfg.History.DSN != "" {
		h, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			log.Warn("history disabled", "error", err)
		} else {
			opts.History = h
		}
	}
	return supervisor.New(ctx, specs, sink, opts)
}

func registerResourceCollector(sup *supervisor.Supervisor, log *slog.Logger) {
	c := metrics.NewResourceCollector(func() []metrics.Target {
		var out []metrics.Target
		for _, st := range sup.Status() {
			if st.Lifecycle == service.Running && st.PID > 0 {
				out = append(out, metrics.Target{Name: st.Name, PID: st.PID})
			}
		}
		return out
	})
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			log.Warn("resource collector registration failed", "error", err)
		}
	}
}

// backendName picks the service "rb" restarts: one named backend, else the
// first configured.
func backendName(names []string) string {
	for _, n := range names {
		if n == "backend" {
			return n
		}
	}
	return names[0]
}

// frontendName picks the service "rf" restarts: one named frontend, else
// the last configured.
func frontendName(names []string) string {
	for _, n := range names {
		if n == "frontend" {
			return n
		}
	}
	return names[len(names)-1]
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
