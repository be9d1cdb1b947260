// Package cmd implements the CLI commands for vodarr.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vodarr/vodarr/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "vodarr",
	Short:   "Video upload and HLS transcoding service",
	Version: version.Short(),
	Long: `vodarr ingests user-uploaded videos and transcodes each into multiple
HLS renditions (360p to 1080p), tracking per-rendition progress, failures,
and retries independently so a video becomes playable as soon as any single
rendition finishes.

The serve command runs the full stack: job workers, cleanup scheduler, and
lifecycle reconciliation. The worker command runs only the encode workers.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/vodarr)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}
