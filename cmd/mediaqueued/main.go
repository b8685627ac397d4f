// Command mediaqueued runs the transcription queue daemon in the foreground.
// It is normally launched in the background by `mediaqueue start`.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mediaqueue/internal/config"
	"mediaqueue/internal/daemonrun"
)

func main() {
	if err := newCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var configPath string
	var opts daemonrun.Options
	cmd := &cobra.Command{
		Use:           "mediaqueued",
		Short:         "Run the mediaqueue daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Human-readable development logging")
	cmd.Flags().BoolVar(&opts.Diagnostic, "diagnostic", false, "Write separate DEBUG logs under the log directory")
	cmd.Flags().BoolVar(&opts.Stdout, "stdout", false, "Mirror logs to standard output")
	return cmd
}
