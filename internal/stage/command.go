package stage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"mediaqueue/internal/logging"
	"mediaqueue/internal/services"
)

const stderrTailLines = 20

// Command runs an external executable for a stage. Argument templates
// {input}, {workdir}, {job}, {language}, {stage}, {filename} and
// {artifact:<key>} are substituted per run. The process reports through
// stdout lines:
//
//	progress 0.42
//	artifact transcript /path/to/transcript.json
//
// Other stdout lines are logged at debug level. Cancellation sends SIGINT to
// the process group; Grace bounds how long the process may take to exit
// before it is killed.
type Command struct {
	Name  string
	Argv  []string
	Grace time.Duration
}

// NewCommand builds a command stage.
func NewCommand(name string, argv []string, grace time.Duration) *Command {
	return &Command{Name: name, Argv: argv, Grace: grace}
}

// HealthCheck verifies the executable resolves on PATH.
func (c *Command) HealthCheck(context.Context) Health {
	if len(c.Argv) == 0 {
		return Unhealthy(c.Name, "command not configured")
	}
	if _, err := exec.LookPath(c.Argv[0]); err != nil {
		return Unhealthy(c.Name, fmt.Sprintf("binary %q not found", c.Argv[0]))
	}
	return Healthy(c.Name)
}

// Run executes the command and translates its output protocol.
func (c *Command) Run(ctx context.Context, in Input, onProgress ProgressFunc) (Output, error) {
	if len(c.Argv) == 0 {
		return Output{}, services.Wrap(services.ErrConfiguration, c.Name, "run", "command not configured", nil)
	}
	if err := os.MkdirAll(in.WorkDir, 0o755); err != nil {
		return Output{}, services.Wrap(services.ErrTransient, c.Name, "run", "ensure work dir", err)
	}
	argv := ExpandArgs(c.Argv, in)
	logger := in.Log()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec
	cmd.Dir = in.WorkDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Interrupt the whole process group so wrapper scripts stop their children.
		return unix.Kill(-cmd.Process.Pid, unix.SIGINT)
	}
	cmd.WaitDelay = c.Grace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Output{}, services.Wrap(services.ErrTransient, c.Name, "run", "stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Output{}, services.Wrap(services.ErrTransient, c.Name, "run", "stderr pipe", err)
	}

	logger.Debug("starting stage command",
		logging.String("command", strings.Join(argv, " ")),
		logging.String(logging.FieldEventType, "stage_command_start"),
	)
	if err := cmd.Start(); err != nil {
		return Output{}, services.Wrap(services.ErrStageFailure, c.Name, "start", argv[0], err)
	}

	out := Output{Artifacts: make(map[string]string)}
	var (
		wg   sync.WaitGroup
		tail []string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, func(line string) {
			c.handleLine(line, in.WorkDir, &out, onProgress, logger)
		})
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
		})
	}()
	wg.Wait()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return Output{}, services.Wrap(services.ErrCancelled, c.Name, "run", "interrupted", ctx.Err())
	}
	if waitErr != nil {
		detail := strings.TrimSpace(strings.Join(tail, "\n"))
		if detail == "" {
			detail = waitErr.Error()
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			detail = fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), detail)
		}
		return Output{}, services.Wrap(services.ErrStageFailure, c.Name, "run", detail, waitErr)
	}
	return out, nil
}

func (c *Command) handleLine(line, workDir string, out *Output, onProgress ProgressFunc, logger *slog.Logger) {
	fields := strings.Fields(line)
	switch {
	case len(fields) == 2 && fields[0] == "progress":
		fraction, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || math.IsNaN(fraction) || math.IsInf(fraction, 0) {
			logger.Debug("ignoring malformed progress line", logging.String("line", line))
			return
		}
		if onProgress != nil {
			onProgress(min(max(fraction, 0), 1))
		}
	case len(fields) >= 3 && fields[0] == "artifact":
		ref := strings.Join(fields[2:], " ")
		if !filepath.IsAbs(ref) {
			ref = filepath.Join(workDir, ref)
		}
		out.Artifacts[fields[1]] = ref
	case len(fields) >= 2 && fields[0] == "message":
		out.Message = strings.TrimSpace(strings.TrimPrefix(line, "message"))
	default:
		logger.Debug("stage output", logging.String("line", line))
	}
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}

// ExpandArgs substitutes the run placeholders into a command template.
func ExpandArgs(template []string, in Input) []string {
	replacements := []string{
		"{input}", in.SourcePath,
		"{workdir}", in.WorkDir,
		"{job}", in.JobID,
		"{language}", in.Options.Language,
		"{stage}", in.Stage,
		"{filename}", in.Filename,
	}
	for key, ref := range in.Artifacts {
		replacements = append(replacements, "{artifact:"+key+"}", ref)
	}
	replacer := strings.NewReplacer(replacements...)
	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = replacer.Replace(arg)
	}
	return out
}
