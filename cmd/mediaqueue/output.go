package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaqueue/internal/api"
	"mediaqueue/internal/language"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jobRows(jobs []api.Job, withPosition bool) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		row := []string{shortID(job.ID)}
		if withPosition {
			pos := ""
			if job.QueuePosition > 0 {
				pos = strconv.Itoa(job.QueuePosition)
			}
			row = append(row, pos)
		}
		row = append(row,
			job.Filename,
			jobStatusLabel(job),
			formatProgress(job.Progress),
			strconv.Itoa(job.Priority),
			formatTimestamp(job.CreatedAt),
		)
		rows = append(rows, row)
	}
	return rows
}

func jobHeaders(withPosition bool) ([]string, []columnAlignment) {
	headers := []string{"ID"}
	aligns := []columnAlignment{alignLeft}
	if withPosition {
		headers = append(headers, "#")
		aligns = append(aligns, alignRight)
	}
	headers = append(headers, "File", "Status", "Progress", "Priority", "Created")
	aligns = append(aligns, alignLeft, alignLeft, alignRight, alignRight, alignLeft)
	return headers, aligns
}

func jobStatusLabel(job api.Job) string {
	label := job.StatusLabel
	if label == "" {
		label = job.Status
	}
	if job.Status == "processing" && job.StageLabel != "" {
		return label + " (" + job.StageLabel + ")"
	}
	return label
}

func formatProgress(pct float64) string {
	return strconv.FormatFloat(pct, 'f', 1, 64) + "%"
}

func formatTimestamp(raw string) string {
	if raw == "" {
		return "-"
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return ts.Local().Format("2006-01-02 15:04")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJobDetail(cmd *cobra.Command, job api.Job) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader(job.Filename, colorize) {
		fmt.Fprintln(out, line)
	}
	fields := [][2]string{
		{"ID", job.ID},
		{"Status", jobStatusLabel(job)},
		{"Progress", formatProgress(job.Progress)},
		{"Priority", strconv.Itoa(job.Priority)},
		{"Stages", strings.Join(job.Stages, " > ")},
		{"Language", language.DisplayName(job.Options.Language)},
		{"Translate to", language.DisplayName(job.Options.TranslateTo)},
		{"Diarization", yesNo(job.Options.EnableDiarization)},
		{"Synthesis", yesNo(job.Options.EnableSynthesis)},
		{"Batch", job.BatchID},
		{"Source", job.SourcePath},
		{"Created", formatTimestamp(job.CreatedAt)},
		{"Started", formatTimestamp(job.StartedAt)},
		{"Completed", formatTimestamp(job.CompletedAt)},
	}
	if job.QueuePosition > 0 {
		fields = append(fields, [2]string{"Queue position", strconv.Itoa(job.QueuePosition)})
	}
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			continue
		}
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, f[0]+":", f[1])
	}
	if job.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, job.ErrorMessage, colorize))
	}
	for _, key := range slices.Sorted(maps.Keys(job.ResultRefs)) {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, key+":", job.ResultRefs[key])
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
