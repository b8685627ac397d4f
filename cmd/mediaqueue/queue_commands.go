package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediaqueue/internal/api"
	"mediaqueue/internal/client"
	"mediaqueue/internal/config"
	"mediaqueue/internal/events"
	"mediaqueue/internal/ipc"
	"mediaqueue/internal/logging"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and order the live queue",
	}
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueReorderCommand(ctx))
	queueCmd.AddCommand(newQueuePriorityCommand(ctx))
	queueCmd.AddCommand(newQueueMoveCommand(ctx))
	queueCmd.AddCommand(newQueueWatchCommand(ctx))
	return queueCmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show queued and running jobs in processing order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				snap, err := client.Queue()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, snap)
				}
				printQueueSnapshot(cmd.OutOrStdout(), *snap)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printQueueSnapshot(out io.Writer, snap api.QueueSnapshot) {
	if len(snap.Jobs) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	headers, aligns := jobHeaders(true)
	footer := []string{"", "", fmt.Sprintf("%d queued, %d processing", snap.Counts["queued"], snap.Counts["processing"])}
	fmt.Fprint(out, renderTable(headers, jobRows(snap.Jobs, true), aligns, footer...))
}

func newQueueReorderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <id>...",
		Short: "Set the processing order of queued jobs",
		Long: "Set the processing order of queued jobs. The listed jobs take the queue " +
			"slots they currently occupy, in the given order. Every id must be queued.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				snap, err := client.Reorder(args)
				if err != nil {
					return err
				}
				printQueueSnapshot(cmd.OutOrStdout(), *snap)
				return nil
			})
		},
	}
}

func newQueuePriorityCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "priority <id> <priority>",
		Short: "Change a queued job's priority (1 is most urgent)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("invalid priority %q", args[1])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				snap, err := client.SetPriority(args[0], priority)
				if err != nil {
					return err
				}
				printQueueSnapshot(cmd.OutOrStdout(), *snap)
				return nil
			})
		},
	}
}

func newQueueMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <position>",
		Short: "Move a queued job to a queue position (1 is next)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("invalid position %q", args[1])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				snap, err := client.Move(args[0], position)
				if err != nil {
					return err
				}
				printQueueSnapshot(cmd.OutOrStdout(), *snap)
				return nil
			})
		},
	}
}

func newQueueWatchCommand(ctx *commandContext) *cobra.Command {
	var once bool
	var url string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live queue events, reconnecting when the daemon restarts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			base := strings.TrimSpace(url)
			if base == "" {
				var err error
				if base, err = apiBaseURL(cfg); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var watcher *client.Watcher
			watcher, err := client.NewWatcher(client.WatcherOptions{
				URL:     base,
				Token:   cfg.Paths.APIToken,
				Backoff: client.BackoffFromConfig(cfg),
				Logger:  logging.NewNop(),
				OnState: func(state client.State) {
					if state == client.StateConnected {
						return
					}
					fmt.Fprintln(out, renderStatusLine("Connection", connectionKind(state), string(state), colorize))
				},
				OnEvent: func(env events.Envelope) {
					if env.Type == events.TypeInitialState {
						printQueueSnapshot(out, watcher.Snapshot())
						if once {
							cancel()
						}
						return
					}
					printWatchEvent(out, env, watcher.Projection(), colorize)
				},
			})
			if err != nil {
				return err
			}
			err = watcher.Run(runCtx)
			if errors.Is(err, context.Canceled) && cmd.Context().Err() == nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Print the current queue and exit")
	cmd.Flags().StringVar(&url, "url", "", "Daemon HTTP base URL (defaults to the configured api_bind)")
	return cmd
}

func connectionKind(state client.State) statusKind {
	switch state {
	case client.StateLost:
		return statusError
	case client.StateReconnecting:
		return statusWarn
	default:
		return statusInfo
	}
}

func printWatchEvent(out io.Writer, env events.Envelope, projection *client.Projection, colorize bool) {
	if env.JobID == "" {
		if env.Type == events.TypeQueueReorder {
			fmt.Fprintf(out, "#%d queue reordered: %s\n", env.Seq, strings.Join(shortIDs(projection.Queued()), " "))
		}
		return
	}
	job, ok := projection.Job(env.JobID)
	if !ok {
		fmt.Fprintf(out, "#%d %s %s\n", env.Seq, env.Type, shortID(env.JobID))
		return
	}
	line := fmt.Sprintf("#%d %-13s %s %s %s", env.Seq, env.Type, shortID(job.ID), job.Filename, jobStatusLabel(job))
	if env.Type == events.TypeJobProgress || job.Terminal() {
		line += " " + formatProgress(job.Progress)
	}
	if job.QueuePosition > 0 {
		line += fmt.Sprintf(" [#%d]", job.QueuePosition)
	}
	if job.ErrorMessage != "" {
		line += ": " + job.ErrorMessage
	}
	if colorize {
		line = paint(statusKindColor(jobStatusKind(job.Status)), line)
	}
	fmt.Fprintln(out, line)
}

func shortIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = shortID(id)
	}
	return out
}

// apiBaseURL derives a dialable URL from the configured bind address.
// Wildcard hosts are replaced with loopback.
func apiBaseURL(cfg *config.Config) (string, error) {
	if cfg == nil || strings.TrimSpace(cfg.Paths.APIBind) == "" {
		return "", errors.New("the HTTP API is disabled (set paths.api_bind)")
	}
	host, port, err := net.SplitHostPort(strings.TrimSpace(cfg.Paths.APIBind))
	if err != nil {
		return "", fmt.Errorf("invalid api_bind %q: %w", cfg.Paths.APIBind, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}
