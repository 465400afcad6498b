package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/devlauncher/pkg/client"
)

// CtlFlags holds flags for remote control of a running launcher.
type CtlFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// createCtlCommand drives a launcher started with http.addr set.
func createCtlCommand(flags *CtlFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running launcher through its HTTP API",
		Long: `Control a running launcher through its HTTP API. The launcher must have
been started with --http-addr or http.addr in its config.

Examples:
  devlauncher ctl status --api-url=http://127.0.0.1:7070/api
  devlauncher ctl restart backend
  devlauncher ctl stop`,
	}
	cmd.PersistentFlags().StringVar(&flags.APIUrl, "api-url", client.DefaultConfig().BaseURL, "launcher control API base URL")
	cmd.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")

	newClient := func() *client.Client {
		return client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
	}
	action := func(use, short string, one func(*client.Client, context.Context, string) (client.ServiceStatus, error),
		all func(*client.Client, context.Context) ([]client.ServiceStatus, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [service]",
			Short: short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c := newClient()
				if len(args) == 1 {
					st, err := one(c, cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printRemoteStatus(cmd.OutOrStdout(), []client.ServiceStatus{st})
				}
				sts, err := all(c, cmd.Context())
				if err != nil {
					return err
				}
				return printRemoteStatus(cmd.OutOrStdout(), sts)
			},
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the status of every service",
			RunE: func(cmd *cobra.Command, args []string) error {
				sts, err := newClient().Status(cmd.Context())
				if err != nil {
					return err
				}
				return printRemoteStatus(cmd.OutOrStdout(), sts)
			},
		},
		action("start", "Start one service or all", (*client.Client).Start, (*client.Client).StartAll),
		action("stop", "Stop one service or all", (*client.Client).Stop, (*client.Client).StopAll),
		action("restart", "Restart one service or all", (*client.Client).Restart, (*client.Client).RestartAll),
		&cobra.Command{
			Use:   "force-kill-all",
			Short: "Kill every service process the launcher can find",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := newClient().ForceKillAll(cmd.Context()); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "force kill complete")
				return nil
			},
		},
	)
	return cmd
}

func printRemoteStatus(w io.Writer, sts []client.ServiceStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATE\tPID\tUPTIME\tLAST EXIT")
	for _, st := range sts {
		pid, uptime := "-", "-"
		if st.PID > 0 {
			pid = fmt.Sprint(st.PID)
		}
		if strings.EqualFold(st.Lifecycle, "running") && !st.StartedAt.IsZero() {
			uptime = time.Since(st.StartedAt).Round(time.Second).String()
		}
		lastExit := st.LastExit
		if lastExit == "" {
			lastExit = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", st.Name, st.Lifecycle, pid, uptime, lastExit)
	}
	return tw.Flush()
}
