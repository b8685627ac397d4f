package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mediaqueue/internal/api"
	"mediaqueue/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var query api.HistoryQuery
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Search finished jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(query)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(out, "No matching jobs")
					return nil
				}
				rows := make([][]string, 0, len(resp.Jobs))
				for _, job := range resp.Jobs {
					rows = append(rows, []string{
						shortID(job.ID),
						job.Filename,
						jobStatusLabel(job),
						formatTimestamp(job.CompletedAt),
						job.ErrorMessage,
					})
				}
				footer := []string{"", fmt.Sprintf("%d-%d of %d", resp.Offset+1, resp.Offset+len(resp.Jobs), resp.Total)}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "File", "Status", "Finished", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
					footer...,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&query.Query, "query", "q", "", "Match filename, id or error text")
	cmd.Flags().StringVarP(&query.Status, "status", "s", "", "Filter by completed, failed or cancelled")
	cmd.Flags().StringVar(&query.Since, "since", "", "Finished at or after (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&query.Until, "until", "", "Finished before (YYYY-MM-DD or RFC3339)")
	cmd.Flags().IntVar(&query.Limit, "limit", 20, "Page size")
	cmd.Flags().IntVar(&query.Offset, "offset", 0, "Page offset")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.AddCommand(newHistoryStatsCommand(ctx))
	return cmd
}

func newHistoryStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize finished work",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				stats, err := client.HistoryStats()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				rows := buildQueueStatusRows(stats.Counts)
				rows = append(rows, []string{"avg processing", strconv.FormatFloat(stats.AvgProcessingSeconds, 'f', 1, 64) + "s"})
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
