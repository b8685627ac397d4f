package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediaqueue/internal/api"
	"mediaqueue/internal/config"
	"mediaqueue/internal/ipc"
	"mediaqueue/internal/preflight"
	"mediaqueue/internal/queue"
)

const offlineStatsTimeout = 2 * time.Second

// StatusLine is one labelled row of `mediaqueue status`. Severity is one of
// ok, info, warn or error.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// DependencySummary counts available and missing stage executables.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missingRequired"`
	MissingOptional int    `json:"missingOptional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// StatusReport is what `mediaqueue status` prints. Without a reachable
// daemon it falls back to local checks and, for persistent backends, counts
// read straight from the store.
type StatusReport struct {
	api.DaemonStatus
	Reachable         bool              `json:"reachable"`
	SystemChecks      []StatusLine      `json:"systemChecks"`
	DependencySummary DependencySummary `json:"dependencySummary"`
}

// BuildStatusReport assembles the report for cfg.
func BuildStatusReport(ctx context.Context, cfg *config.Config) (*StatusReport, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	report := &StatusReport{}
	if client, err := ipc.Dial(cfg.SocketPath()); err == nil {
		if status, err := client.Status(); err == nil {
			report.DaemonStatus = *status
			report.Reachable = true
		}
		client.Close()
	}
	if !report.Reachable {
		report.LockFilePath = cfg.LockPath()
		report.SocketPath = cfg.SocketPath()
		report.StorageBackend = cfg.Storage.Backend
		report.StoragePath = cfg.StoragePath()
		if cfg.Storage.Backend != config.BackendMemory {
			if counts, err := offlineCounts(ctx, cfg); err == nil {
				report.Workflow.QueueStats = api.MergeQueueStats(counts)
				report.Workflow.Queued = counts[queue.StatusQueued]
			}
		}
	}
	if len(report.Dependencies) == 0 {
		report.Dependencies = api.FromDependencies(preflight.CheckSystemDeps(cfg))
	}
	report.SystemChecks = BuildSystemChecks(cfg, report.Reachable, report.Running)
	report.DependencySummary = BuildDependencySummary(report.Dependencies)
	return report, nil
}

// offlineCounts opens the store read-side with a deadline; a locked or slow
// database must not hang the status command.
func offlineCounts(ctx context.Context, cfg *config.Config) (map[queue.Status]int, error) {
	ctx, cancel := context.WithTimeout(ctx, offlineStatsTimeout)
	defer cancel()
	type result struct {
		counts map[queue.Status]int
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		store, err := queue.Open(cfg)
		if err != nil {
			ch <- result{err: err}
			return
		}
		defer store.Close()
		ch <- result{counts: store.Stats().Counts}
	}()
	select {
	case r := <-ch:
		return r.counts, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func severity(passed bool) string {
	if passed {
		return "ok"
	}
	return "error"
}

// BuildSystemChecks lists daemon state, directory access, the HTTP API and
// notifications.
func BuildSystemChecks(cfg *config.Config, reachable, running bool) []StatusLine {
	daemon := StatusLine{Label: "Daemon", Severity: "warn", Detail: "Not running (run `mediaqueue start`)"}
	switch {
	case running:
		daemon = StatusLine{Label: "Daemon", Severity: "ok", Detail: "Running"}
	case reachable:
		daemon.Detail = "Stopped (run `mediaqueue start`)"
	}
	lines := []StatusLine{daemon}

	for _, r := range []preflight.Result{
		preflight.CheckDirectoryAccess("Data", cfg.Paths.DataDir),
		preflight.CheckDirectoryAccess("Work", cfg.Paths.WorkDir),
	} {
		lines = append(lines, StatusLine{Label: r.Name, Severity: severity(r.Passed), Detail: r.Detail})
	}

	http := StatusLine{Label: "HTTP API", Severity: "info", Detail: "Disabled"}
	if bind := strings.TrimSpace(cfg.Paths.APIBind); bind != "" {
		http = StatusLine{Label: "HTTP API", Severity: "ok", Detail: bind}
		if strings.TrimSpace(cfg.Paths.APIToken) == "" {
			http.Severity, http.Detail = "warn", bind+" (no token)"
		}
	}
	notify := StatusLine{Label: "Notifications", Severity: "info", Detail: "Not configured"}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		notify = StatusLine{Label: "Notifications", Severity: "ok", Detail: "Configured"}
	}
	return append(lines, http, notify)
}

// BuildDependencySummary rates the dependency list: error when a required
// executable is missing, warn when only optional ones are.
func BuildDependencySummary(deps []api.DependencyStatus) DependencySummary {
	if len(deps) == 0 {
		return DependencySummary{Severity: "info", Detail: "No external stage commands configured"}
	}
	s := DependencySummary{Total: len(deps)}
	for _, dep := range deps {
		switch {
		case dep.Available:
			s.Available++
		case dep.Optional:
			s.MissingOptional++
		default:
			s.MissingRequired++
		}
	}
	s.Detail = fmt.Sprintf("%d/%d available", s.Available, s.Total)
	switch {
	case s.MissingRequired > 0:
		s.Severity = "error"
	case s.MissingOptional > 0:
		s.Severity = "warn"
	default:
		s.Severity = "ok"
		return s
	}
	s.Detail += fmt.Sprintf(" (missing: %d required, %d optional)", s.MissingRequired, s.MissingOptional)
	return s
}
