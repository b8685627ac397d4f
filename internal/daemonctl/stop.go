package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediaqueue/internal/config"
	"mediaqueue/internal/ipc"
)

// ErrDaemonNotRunning means nothing listens on the daemon socket.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult reports how Shutdown ended the daemon.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult combines the stop and start halves of Restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

func unavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED)
}

// WaitForShutdown waits until the socket stops accepting connections.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	err := poll(timeout, func() (bool, error) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			client.Close()
			return false, errors.New("daemon still running")
		}
		return unavailable(err), err
	})
	if err != nil {
		return fmt.Errorf("daemon did not stop: %w", err)
	}
	return nil
}

// Shutdown stops the workflow over IPC, sends SIGTERM to the daemon and kills
// it if the socket is still up after grace.
func Shutdown(cfg *config.Config, grace time.Duration) (StopResult, error) {
	var result StopResult
	socketPath := cfg.SocketPath()
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if unavailable(err) {
			return result, ErrDaemonNotRunning
		}
		return result, err
	}
	if status, err := client.Status(); err == nil {
		result.PID = status.PID
	}
	resp, err := client.Stop()
	client.Close()
	if err != nil {
		return result, err
	}
	result.StopAcknowledged = resp.Stopped

	if result.PID > 0 && result.PID != os.Getpid() {
		_ = syscall.Kill(result.PID, syscall.SIGTERM)
	}
	if WaitForShutdown(socketPath, grace) == nil {
		return result, nil
	}

	pid, err := ForceKillProcess(cfg.PIDPath(), cfg.LockPath(), result.PID)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill, result.PID = true, pid
	return result, nil
}

// ForceKillProcess sends SIGKILL to the pid recorded in pidPath, or to
// fallbackPID when the file is absent, then removes the pid and lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	switch data, err := os.ReadFile(pidPath); {
	case err == nil:
		if n, convErr := strconv.Atoi(strings.TrimSpace(string(data))); convErr == nil && n > 0 {
			pid = n
		}
	case !errors.Is(err, os.ErrNotExist):
		return 0, fmt.Errorf("read pid file %s: %w", pidPath, err)
	}
	switch {
	case pid <= 0:
		return 0, fmt.Errorf("no daemon pid known (looked in %s)", pidPath)
	case pid == os.Getpid():
		return 0, fmt.Errorf("pid %d is this process", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %s: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// Restart shuts the daemon down if it is running and starts it again.
func Restart(cfg *config.Config, executable string, opts LaunchOptions, grace, wait time.Duration) (RestartResult, error) {
	stopped, err := Shutdown(cfg, grace)
	if err != nil && !errors.Is(err, ErrDaemonNotRunning) {
		return RestartResult{}, err
	}
	started, startErr := EnsureStarted(cfg.SocketPath(), executable, opts, wait)
	if startErr != nil {
		return RestartResult{}, startErr
	}
	return RestartResult{WasRunning: err == nil, Stop: stopped, Start: started}, nil
}
