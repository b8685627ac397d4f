package preflight

import (
	"context"
	"strings"

	"mediaqueue/internal/config"
)

// Result is the outcome of one check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Failed filters results down to the failures.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// RunAll checks the data and work directories, free space when a minimum is
// configured, the ntfy server when a topic is set and every required stage
// executable.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
	}
	if floor := cfg.Workflow.MinFreeDiskMiB; floor > 0 {
		results = append(results, CheckFreeSpace("Work directory space", cfg.Paths.WorkDir, floor))
	}
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		results = append(results, CheckEndpoint(ctx, "ntfy", topic))
	}
	for _, st := range CheckSystemDeps(cfg) {
		if st.Optional {
			continue
		}
		detail := st.Command
		if st.Detail != "" {
			detail = st.Detail
		}
		results = append(results, Result{Name: st.Name, Passed: st.Available, Detail: detail})
	}
	return results
}
