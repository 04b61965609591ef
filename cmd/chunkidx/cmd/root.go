// Package cmd provides the chunkidx CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/chunkidx/config"
)

// app holds the global flags and the configuration they resolve to.
type app struct {
	configPath string
	cacheDir   string
	logLevel   string
	remoteURL  string

	cfg *config.Config
}

// NewRootCmd creates the root command for the chunkidx CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "chunkidx",
		Short: "Build, publish and query shared index chunks",
		Long: `chunkidx manages prebuilt index chunks: immutable files holding a
content-hash table and typed lookup indexes for one library or artifact.

Chunks are packed from a JSON description, published to a remote store
(S3, MinIO or a directory) and registered in a catalog. Consumers locate
the chunks their project depends on, download them into a local cache and
query them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultFileName, "Config file")
	cmd.PersistentFlags().StringVar(&a.cacheDir, "cache-dir", "", "Local chunk cache directory")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.remoteURL, "remote", "", "Remote store URL (s3://, minio://, file://)")

	cmd.AddCommand(newPackCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newLocateCmd(a))
	cmd.AddCommand(newEnumerateCmd(a))
	cmd.AddCommand(newWatchCmd(a))
	cmd.AddCommand(newPublishCmd(a))

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// load resolves the configuration: file, then environment, then flags.
func (a *app) load(cmd *cobra.Command) error {
	required := cmd.Flags().Changed("config")
	cfg, err := config.Load(a.configPath, required)
	if err != nil {
		return err
	}
	if a.cacheDir != "" {
		cfg.CacheDir = a.cacheDir
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.remoteURL != "" {
		cfg.Remote.URL = a.remoteURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}
