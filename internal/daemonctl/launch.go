package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mediaqueue/internal/ipc"
)

const (
	daemonBinary = "mediaqueued"
	pollInterval = 200 * time.Millisecond
)

// LaunchOptions are passed through to a freshly launched mediaqueued.
type LaunchOptions struct {
	ConfigPath string
	Diagnostic bool
}

func (o LaunchOptions) args() []string {
	var args []string
	if path := strings.TrimSpace(o.ConfigPath); path != "" {
		args = append(args, "--config", path)
	}
	if o.Diagnostic {
		args = append(args, "--diagnostic")
	}
	return args
}

// StartState is how a start request ended.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult reports what EnsureStarted did.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// DaemonExecutable finds mediaqueued beside the running binary, then on PATH.
func DaemonExecutable() (string, error) {
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), daemonBinary)
		if info, err := os.Stat(sibling); err == nil && info.Mode().IsRegular() {
			return sibling, nil
		}
	}
	path, err := exec.LookPath(daemonBinary)
	if err != nil {
		return "", fmt.Errorf("locate %s: %w", daemonBinary, err)
	}
	return path, nil
}

// Launch starts executable in its own session and does not wait for it.
func Launch(executable string, opts LaunchOptions) error {
	if strings.TrimSpace(executable) == "" {
		return errors.New("launch daemon: no executable")
	}
	proc := exec.Command(executable, opts.args()...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// poll calls done every pollInterval until it reports true or timeout
// passes. The last error from done is returned on timeout.
func poll(timeout time.Duration, done func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := done()
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			if err == nil {
				err = errors.New("timed out")
			}
			return err
		}
		time.Sleep(pollInterval)
	}
}

// WaitForClient dials socketPath until the daemon answers.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	var client *ipc.Client
	err := poll(timeout, func() (bool, error) {
		c, err := ipc.Dial(socketPath)
		if err != nil {
			return false, err
		}
		client = c
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("daemon failed to start: %w", err)
	}
	return client, nil
}

// EnsureStarted makes sure a daemon process exists and its workflow runs.
// A missing daemon is launched from executable first.
func EnsureStarted(socketPath, executable string, opts LaunchOptions, wait time.Duration) (StartResult, error) {
	var result StartResult
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if err := Launch(executable, opts); err != nil {
			return result, err
		}
		if client, err = WaitForClient(socketPath, wait); err != nil {
			return result, err
		}
		result.Launched = true
	}
	defer client.Close()

	if status, err := client.Status(); err == nil && status.Running {
		result.State = StartStateAlreadyRunning
		if result.Launched {
			result.State = StartStateStarted
		}
		return result, nil
	}

	resp, err := client.Start()
	if err != nil {
		return result, err
	}
	result.Message = strings.TrimSpace(resp.Message)
	switch {
	case resp.Started:
		result.State = StartStateStarted
	case strings.EqualFold(result.Message, "daemon already running"):
		result.State = StartStateAlreadyRunning
	default:
		result.State = StartStateRequested
		if result.Message == "" {
			result.Message = "Start request sent"
		}
	}
	return result, nil
}
