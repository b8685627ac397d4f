package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mediaqueue/internal/config"
)

// Requirement is an executable mediaqueue expects to find.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// Near is another executable; a copy of Command in the same directory
	// is preferred over PATH.
	Near string
}

// Status is the lookup result for one Requirement.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Check looks up every requirement in order.
func Check(reqs []Requirement) []Status {
	out := make([]Status, len(reqs))
	for i, req := range reqs {
		out[i] = check(req)
	}
	return out
}

func check(req Requirement) Status {
	st := Status{
		Name:        req.Name,
		Command:     strings.TrimSpace(req.Command),
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if st.Command == "" {
		st.Detail = "command not configured"
		return st
	}
	if path, ok := besides(req.Near, st.Command); ok {
		st.Command, st.Available = path, true
		return st
	}
	path, err := exec.LookPath(st.Command)
	if err != nil {
		st.Detail = fmt.Sprintf("%s not found on PATH", st.Command)
		return st
	}
	if req.Near != "" {
		st.Command = path
	}
	st.Available = true
	return st
}

// besides returns name from the directory holding near, when it is an
// executable file there.
func besides(near, name string) (string, bool) {
	near = strings.TrimSpace(near)
	if near == "" || strings.ContainsRune(name, filepath.Separator) {
		return "", false
	}
	resolved, err := exec.LookPath(near)
	if err != nil {
		return "", false
	}
	candidate := filepath.Join(filepath.Dir(resolved), name)
	if candidate == resolved {
		return "", false
	}
	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return "", false
	}
	return candidate, true
}

// ForConfig lists the executables of configured stage commands in pipeline
// order, followed by ffmpeg. Simulated stages need nothing; ffmpeg is only
// required once an extract command is configured.
func ForConfig(cfg *config.Config) []Requirement {
	var reqs []Requirement
	extract := ""
	for _, name := range config.StageOrder {
		argv := cfg.StageCommand(name)
		if len(argv) == 0 {
			continue
		}
		if name == config.StageExtract {
			extract = argv[0]
		}
		reqs = append(reqs, Requirement{Name: name, Command: argv[0], Description: "Runs the " + name + " stage"})
	}
	return append(reqs, Requirement{
		Name:        "FFmpeg",
		Command:     "ffmpeg",
		Description: "Decodes media for audio extraction",
		Optional:    extract == "",
		Near:        extract,
	})
}
