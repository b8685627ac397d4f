package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"mediaqueue/internal/api"
	"mediaqueue/internal/batch"
	"mediaqueue/internal/ipc"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:     "batch",
		Aliases: []string{"batches"},
		Short:   "Submit and export groups of files",
	}
	batchCmd.AddCommand(newBatchCreateCommand(ctx))
	batchCmd.AddCommand(newBatchListCommand(ctx))
	batchCmd.AddCommand(newBatchShowCommand(ctx))
	batchCmd.AddCommand(newBatchExportCommand(ctx))
	return batchCmd
}

func newBatchCreateCommand(ctx *commandContext) *cobra.Command {
	var flags submitFlags
	var name string
	cmd := &cobra.Command{
		Use:   "create <file>...",
		Short: "Submit several files as one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.BatchRequest{
				Name:     name,
				Options:  flags.options(),
				Priority: flags.priority,
			}
			for _, arg := range args {
				file := batch.File{Filename: filepath.Base(arg)}
				if abs, err := filepath.Abs(arg); err == nil {
					if _, statErr := os.Stat(abs); statErr == nil {
						file.SourcePath = abs
					}
				}
				req.Files = append(req.Files, file)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.BatchCreate(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created batch %s (%s) with %d files\n", resp.Batch.ID, resp.Batch.Name, resp.Batch.TotalFiles)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&name, "name", "n", "", "Batch name")
	return cmd
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.BatchList()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Batches)
				}
				if len(resp.Batches) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No batches")
					return nil
				}
				rows := make([][]string, 0, len(resp.Batches))
				for _, b := range resp.Batches {
					rows = append(rows, batchRow(b))
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Status", "Done", "Failed", "Progress", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func batchRow(b api.Batch) []string {
	return []string{
		shortID(b.ID),
		b.Name,
		b.StatusLabel,
		fmt.Sprintf("%d/%d", b.CompletedFiles, b.TotalFiles),
		strconv.Itoa(b.FailedFiles),
		formatProgress(b.Progress),
		formatTimestamp(b.CreatedAt),
	}
}

func newBatchShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a batch and its jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.BatchShow(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Batch)
				}
				out := cmd.OutOrStdout()
				b := resp.Batch
				fmt.Fprintf(out, "%s (%s): %s, %d/%d completed, %d failed, %s\n",
					b.Name, b.ID, b.StatusLabel, b.CompletedFiles, b.TotalFiles, b.FailedFiles, formatProgress(b.Progress))
				headers, aligns := jobHeaders(false)
				fmt.Fprint(out, renderTable(headers, jobRows(b.Jobs, false), aligns))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newBatchExportCommand(ctx *commandContext) *cobra.Command {
	var format string
	var output string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a finished batch's transcripts to a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = args[0] + ".zip"
			}
			abs, err := filepath.Abs(target)
			if err != nil {
				return fmt.Errorf("resolve output path: %w", err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.BatchExport(args[0], format, abs)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Wrote %d transcripts (%d bytes) to %s\n", len(resp.Manifest.Files), resp.Bytes, resp.Path)
				for _, omitted := range resp.Manifest.Omitted {
					fmt.Fprintf(out, "  skipped %s: %s\n", omitted.Filename, omitted.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "txt", "Transcript format (json, srt, vtt, txt)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Archive path (defaults to <id>.zip)")
	return cmd
}
