package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediaqueue/internal/api"
	"mediaqueue/internal/ipc"
	"mediaqueue/internal/transcript"
)

type submitFlags struct {
	priority    int
	language    string
	translateTo string
	model       string
	diarize     bool
	synthesize  bool
	noSync      bool
	sync        bool
	formats     []string
}

func (f *submitFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.priority, "priority", "p", 0, "Priority 1 (most urgent) to 10; 0 uses the configured default")
	cmd.Flags().StringVarP(&f.language, "language", "l", "", "Source language code (empty auto-detects)")
	cmd.Flags().StringVar(&f.translateTo, "translate-to", "", "Translate the transcript into this language")
	cmd.Flags().StringVar(&f.model, "model", "", "Transcription model identifier")
	cmd.Flags().BoolVar(&f.diarize, "diarize", false, "Label speakers")
	cmd.Flags().BoolVar(&f.synthesize, "synthesize", false, "Synthesize translated speech")
	cmd.Flags().BoolVar(&f.sync, "sync-timing", false, "Align synthesized speech to the original timing")
	cmd.Flags().BoolVar(&f.noSync, "no-sync-timing", false, "Disable timing alignment")
	cmd.Flags().StringSliceVar(&f.formats, "format", nil, "Output formats (json, srt, vtt, txt)")
	cmd.MarkFlagsMutuallyExclusive("sync-timing", "no-sync-timing")
}

func (f *submitFlags) options() api.SubmitOptions {
	opts := api.SubmitOptions{
		Language:          f.language,
		TranslateTo:       f.translateTo,
		ModelID:           f.model,
		EnableDiarization: f.diarize,
		EnableSynthesis:   f.synthesize,
		OutputFormats:     f.formats,
	}
	switch {
	case f.sync:
		v := true
		opts.SyncTiming = &v
	case f.noSync:
		v := false
		opts.SyncTiming = &v
	}
	return opts
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var flags submitFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "submit <file>...",
		Short: "Submit media files for transcription",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				var submitted []api.Job
				for _, arg := range args {
					req := api.SubmitRequest{
						Filename: filepath.Base(arg),
						Options:  flags.options(),
						Priority: flags.priority,
					}
					if abs, err := filepath.Abs(arg); err == nil {
						if _, statErr := os.Stat(abs); statErr == nil {
							req.SourcePath = abs
						}
					}
					resp, err := client.Submit(req)
					if err != nil {
						return fmt.Errorf("submit %s: %w", arg, err)
					}
					submitted = append(submitted, resp.Job)
				}
				if asJSON {
					return writeJSON(cmd, submitted)
				}
				for _, job := range submitted {
					fmt.Fprintf(cmd.OutOrStdout(), "Queued %s as %s (priority %d)\n", job.Filename, job.ID, job.Priority)
				}
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:     "job",
		Aliases: []string{"jobs"},
		Short:   "Inspect and manage jobs",
	}
	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobCancelCommand(ctx))
	jobCmd.AddCommand(newJobRemoveCommand(ctx))
	jobCmd.AddCommand(newJobTranscriptCommand(ctx))
	jobCmd.AddCommand(newJobSpeakersCommand(ctx))
	jobCmd.AddCommand(newJobSegmentCommand(ctx))
	return jobCmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobList(statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Jobs)
				}
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				headers, aligns := jobHeaders(false)
				fmt.Fprint(cmd.OutOrStdout(), renderTable(headers, jobRows(resp.Jobs, false), aligns))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (queued, processing, completed, failed, cancelled)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobShow(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Job)
				}
				printJobDetail(cmd, resp.Job)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>...",
		Short: "Cancel queued or running jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				var errs []error
				for _, id := range args {
					resp, err := client.Cancel(id)
					if err != nil {
						errs = append(errs, fmt.Errorf("cancel %s: %w", id, err))
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s\n", resp.Job.ID, resp.Job.Status)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newJobRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "Delete jobs and their artifacts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				var errs []error
				for _, id := range args {
					if _, err := client.Remove(id); err != nil {
						errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s removed\n", id)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newJobTranscriptCommand(ctx *commandContext) *cobra.Command {
	var format string
	var output string
	cmd := &cobra.Command{
		Use:   "transcript <id>",
		Short: "Print or save a completed job's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Transcript(args[0], format)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					fmt.Fprint(cmd.OutOrStdout(), resp.Content)
					return nil
				}
				if err := os.WriteFile(output, []byte(resp.Content), 0o644); err != nil {
					return fmt.Errorf("write transcript: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s transcript to %s\n", resp.Format, output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "txt", "Transcript format (json, srt, vtt, txt)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newJobSpeakersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "speakers <id> <label=name>...",
		Short: "Rename diarized speakers in a completed transcript",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mapping, err := parseSpeakerMapping(args[1:])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RenameSpeakers(args[0], mapping)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Relabelled %d segments\n", resp.Changed)
				return nil
			})
		},
	}
}

func newJobSegmentCommand(ctx *commandContext) *cobra.Command {
	var speaker string
	cmd := &cobra.Command{
		Use:   "segment <id> <segment> <text>",
		Short: "Correct one segment of a completed transcript",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			segment, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("invalid segment id %q", args[1])
			}
			edit := transcript.SegmentEdit{Text: args[2]}
			if cmd.Flags().Changed("speaker") {
				edit.Speaker = &speaker
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.EditSegment(args[0], segment, edit)
				if err != nil {
					return err
				}
				seg := resp.Segment
				label := ""
				if seg.Speaker != "" {
					label = seg.Speaker + ": "
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Segment %d  %s%s\n", seg.ID, label, seg.Text)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&speaker, "speaker", "", "Set the segment speaker (empty clears it)")
	return cmd
}

func parseSpeakerMapping(pairs []string) (map[string]string, error) {
	mapping := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		label, name, ok := strings.Cut(pair, "=")
		label, name = strings.TrimSpace(label), strings.TrimSpace(name)
		if !ok || label == "" || name == "" {
			return nil, fmt.Errorf("invalid speaker mapping %q (want LABEL=NAME)", pair)
		}
		mapping[label] = name
	}
	return mapping, nil
}
