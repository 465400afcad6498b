package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loykin/devlauncher/internal/config"
	"github.com/loykin/devlauncher/internal/logsink"
	"github.com/loykin/devlauncher/internal/process"
)

// buildRoot creates the root command. Running it without a subcommand
// starts the interactive launcher.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	ctlFlags := &CtlFlags{}

	root := createRootCommand(globalFlags, runFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createStatusCommand(globalFlags),
		createForceKillCommand(globalFlags),
		createConfigCommand(globalFlags),
		createCtlCommand(ctlFlags),
	)
	return root
}

func addRunFlags(cmd *cobra.Command, f *RunFlags) {
	cmd.Flags().BoolVar(&f.NoAutostart, "no-autostart", false, "do not start every service on launch")
	cmd.Flags().BoolVar(&f.NoColor, "no-color", false, "disable ANSI colors in the console")
	cmd.Flags().StringVar(&f.HTTPAddr, "http-addr", "", "serve the control API on this address (overrides http.addr)")
}

// createRootCommand creates the root command with the persistent flags.
func createRootCommand(flags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "devlauncher",
		Short: "Run a local backend and frontend dev stack from one console",
		Long: `Devlauncher starts the backend and frontend dev servers, multiplexes
their output into one tagged log stream and accepts console commands to
start, stop and restart them.

Examples:
  devlauncher                        # start everything and open the console
  devlauncher --no-autostart         # open the console only
  devlauncher --config dev.toml status
  devlauncher force-kill             # clean up processes left by a crash
  devlauncher ctl restart backend    # drive a launcher started with --http-addr`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLauncher(cmd.Context(), flags, runFlags, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (default ./"+config.DefaultFile+" when present)")
	root.PersistentFlags().StringVar(&flags.Root, "root", "", "project root that service workdirs are relative to")
	addRunFlags(root, runFlags)
	return root
}

// createRunCommand is the explicit form of the root command.
func createRunCommand(flags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the interactive launcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLauncher(cmd.Context(), flags, runFlags, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	addRunFlags(cmd, runFlags)
	return cmd
}

// createStatusCommand reports the configured services and whether a
// process recorded in their pidfile is still alive.
func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured services and pidfile state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), cfg)
		},
	}
}

// createForceKillCommand kills processes left behind by an earlier run.
func createForceKillCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "force-kill",
		Short: "Kill orphaned service processes from pidfiles and command-line patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return forceKill(cmd.Context(), flags, cmd.OutOrStdout())
		},
	}
}

// createConfigCommand prints the effective configuration.
func createConfigCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func loadConfig(flags *GlobalFlags) (*config.FileConfig, error) {
	cfg, err := config.Load(config.Resolve(flags.ConfigPath))
	if err != nil {
		return nil, err
	}
	cfg.WithRoot(flags.Root)
	return cfg, nil
}

func printStatus(w io.Writer, cfg *config.FileConfig) error {
	specs, err := cfg.Specs()
	if err != nil {
		return err
	}
	pidDir := cfg.SupervisorOptions().PIDDir
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATE\tPID\tWORKDIR\tCOMMAND")
	for _, sp := range specs {
		state, pid := "stopped", "-"
		if pidDir != "" {
			if rec, err := process.ReadPIDFile(filepath.Join(pidDir, sp.Name+".pid")); err == nil {
				pid = fmt.Sprint(rec.PID)
				state = "stale pidfile"
				if rec.Matches() {
					state = "running"
				}
			}
		}
		workDir := sp.WorkDir
		if workDir == "" {
			workDir = "."
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", sp.Name, state, pid, workDir, strings.Join(sp.Command, " "))
	}
	return tw.Flush()
}

func forceKill(ctx context.Context, flags *GlobalFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	sink := logsink.New()
	sup, err := newSupervisor(ctx, cfg, sink, nil)
	if err != nil {
		return err
	}
	sup.ForceKillAll(ctx)
	err = sup.Close(ctx)
	for _, l := range sink.Drain(0) {
		_, _ = fmt.Fprintln(out, l.Render())
	}
	return err
}
