package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mediaqueue/internal/config"
	"mediaqueue/internal/ipc"
)

// noConfigAnnotation marks commands that must run before a usable config
// exists, such as `config init`.
const noConfigAnnotation = "mediaqueue/no-config"

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	socket string
	config string
}

// commandContext resolves the configuration and daemon connection for a
// single CLI invocation. The config is loaded at most once.
type commandContext struct {
	flags *globalFlags

	loaded  bool
	cfg     *config.Config
	loadErr error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if !c.loaded {
		c.loaded = true
		c.cfg, c.loadErr = loadRuntimeConfig(c.configPath())
	}
	return c.cfg, c.loadErr
}

func loadRuntimeConfig(path string) (*config.Config, error) {
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}
	return cfg, nil
}

// configValue returns the loaded config, or nil when loading failed.
func (c *commandContext) configValue() *config.Config {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil
	}
	return cfg
}

func (c *commandContext) configPath() string {
	return strings.TrimSpace(c.flags.config)
}

// socketPath prefers --socket and falls back to the configured data dir.
func (c *commandContext) socketPath() string {
	if explicit := strings.TrimSpace(c.flags.socket); explicit != "" {
		return explicit
	}
	cfg := c.configValue()
	if cfg == nil {
		return ""
	}
	return cfg.SocketPath()
}

func (c *commandContext) dialClient() (*ipc.Client, error) {
	socket := c.socketPath()
	if socket == "" {
		return nil, errors.New("connect to daemon: no socket path; pass --socket or fix the configuration")
	}
	client, err := ipc.Dial(socket)
	if err != nil {
		return nil, describeDialFailure(socket, err)
	}
	return client, nil
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func describeDialFailure(socket string, err error) error {
	var hint string
	switch {
	case errors.Is(err, syscall.ENOENT), errors.Is(err, os.ErrNotExist):
		hint = "is the daemon started? run `mediaqueue start`"
	case errors.Is(err, syscall.ECONNREFUSED):
		hint = "the socket exists but nothing is listening; the daemon may have crashed"
	case errors.Is(err, syscall.EACCES):
		hint = "permission denied on the socket"
	default:
		return fmt.Errorf("connect to daemon at %s: %w", socket, err)
	}
	return fmt.Errorf("connect to daemon at %s: %s: %w", socket, hint, err)
}

func skipsConfig(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Annotations[noConfigAnnotation] != "" {
			return true
		}
	}
	return false
}
