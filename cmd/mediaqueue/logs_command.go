package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"mediaqueue/internal/config"
	"mediaqueue/internal/ipc"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/logs"
)

type logsFlags struct {
	follow    bool
	limit     int
	jobID     string
	component string
	fromFile  bool
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var flags logsFlags
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		Long: "Show recent daemon log events. Events come from the running daemon; " +
			"with --file, or when the daemon is unreachable, the log files on disk are read instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.fromFile {
				return tailLogFile(cmd, ctx.configValue(), flags)
			}
			client, err := ctx.dialClient()
			if err != nil {
				cfg := ctx.configValue()
				if cfg == nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "daemon unreachable, reading log files (%v)\n", err)
				return tailLogFile(cmd, cfg, flags)
			}
			defer client.Close()
			return streamDaemonLogs(cmd, client, flags)
		},
	}
	cmd.Flags().BoolVarP(&flags.follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().IntVarP(&flags.limit, "lines", "n", 50, "Number of events to show")
	cmd.Flags().StringVar(&flags.jobID, "job", "", "Only events for this job id")
	cmd.Flags().StringVar(&flags.component, "component", "", "Only events from this component")
	cmd.Flags().BoolVar(&flags.fromFile, "file", false, "Read log files on disk instead of the daemon")
	return cmd
}

func streamDaemonLogs(cmd *cobra.Command, client *ipc.Client, flags logsFlags) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	resp, err := client.LogTail(ipc.LogTailRequest{
		Tail:      true,
		Limit:     flags.limit,
		JobID:     flags.jobID,
		Component: flags.component,
	})
	if err != nil {
		return err
	}
	printLogEvents(out, resp.Events, colorize)
	next := resp.Next
	for flags.follow {
		if err := cmd.Context().Err(); err != nil {
			return nil
		}
		resp, err := client.LogTail(ipc.LogTailRequest{
			Since:      next,
			Limit:      flags.limit,
			Follow:     true,
			WaitMillis: 5000,
			JobID:      flags.jobID,
			Component:  flags.component,
		})
		if err != nil {
			return err
		}
		printLogEvents(out, resp.Events, colorize)
		next = resp.Next
	}
	return nil
}

// tailLogFile prints from the job's own log when --job is set, otherwise from
// the daemon log. Component filtering applies to JSON lines only.
func tailLogFile(cmd *cobra.Command, cfg *config.Config, flags logsFlags) error {
	if cfg == nil {
		return errors.New("configuration unavailable")
	}
	path := logs.DaemonLogPath(cfg.Paths.LogDir)
	if flags.jobID != "" {
		jobPath, err := logs.JobLogPath(cfg.Paths.LogDir, flags.jobID)
		if err != nil {
			return err
		}
		path = jobPath
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	emit := func(line string) {
		evt, ok := logs.ParseEvent(line)
		if !ok {
			if flags.component == "" {
				fmt.Fprintln(out, line)
			}
			return
		}
		if flags.component != "" && !strings.EqualFold(evt.Component, flags.component) {
			return
		}
		fmt.Fprintln(out, formatLogEvent(evt, colorize))
	}

	lines, offset, err := logs.Tail(path, flags.limit)
	if err != nil {
		return err
	}
	for _, line := range lines {
		emit(line)
	}
	if !flags.follow {
		return nil
	}
	return logs.Follow(cmd.Context(), path, offset, 0, emit)
}

func printLogEvents(out io.Writer, evts []logging.LogEvent, colorize bool) {
	for _, evt := range evts {
		fmt.Fprintln(out, formatLogEvent(evt, colorize))
	}
}

func formatLogEvent(evt logging.LogEvent, colorize bool) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp.Local().Format("15:04:05"))
	b.WriteByte(' ')
	level := strings.ToUpper(evt.Level)
	if colorize {
		level = paint(levelColor(level), level)
	}
	fmt.Fprintf(&b, "%-5s ", level)
	if evt.Component != "" {
		b.WriteString(evt.Component)
		b.WriteByte(' ')
	}
	if subject := logging.FormatSubject("", shortID(evt.JobID), evt.Stage); subject != "" {
		b.WriteString(subject)
		b.WriteByte(' ')
	}
	b.WriteString(evt.Message)
	for _, key := range slices.Sorted(maps.Keys(evt.Fields)) {
		fmt.Fprintf(&b, " %s=%s", key, evt.Fields[key])
	}
	return b.String()
}

func levelColor(level string) string {
	switch level {
	case "ERROR":
		return ansiRed
	case "WARN":
		return ansiYellow
	case "DEBUG":
		return ""
	default:
		return ansiGreen
	}
}
