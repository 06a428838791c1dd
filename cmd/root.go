package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
)

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"source":               "source",
	"target":               "target",
	"preserve-source-name": "preserveSourceDirName",
	"dry-run":              "dryRun",
	"log-level":            "logLevel",
	"log-file":             "logFile",
	"quiet":                "quiet",
	"fail-on-errors":       "failOnErrors",
	"metrics":              "metrics",
	"manifest":             "manifest",
	"workers":              "engine.workers",
	"task-timeout":         "engine.taskTimeout",
	"retry-count":          "engine.retryCount",
	"retry-wait":           "engine.retryWait",
	"mod-time-window":      "engine.modTimeWindow",
	"buffer-size-kb":       "engine.bufferSizeKB",
}

// NewRootCommand builds the pgl-mirror command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pgl-mirror",
		Short: "Make a target directory an exact mirror of a source directory",
		Long: `pgl-mirror compares a source directory with a target directory by file type,
size and modification time, copies every new or changed entry to the target and
then removes every entry that no longer exists in the source.

Settings are read from ` + config.ConfigFileName + ` in the working directory (or the
file given with --config), overridden by ` + config.EnvPrefix + `_* environment variables
and finally by command-line flags.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to a YAML configuration file (default ./"+config.ConfigFileName+")")

	root.AddCommand(newSyncCommand(), newInitCommand(), newVersionCommand())
	return root
}

// addConfigFlags defines the per-run flags on cmd.
func addConfigFlags(cmd *cobra.Command) {
	d := config.NewDefault()
	f := cmd.Flags()
	f.String("source", "", "Source directory to mirror")
	f.String("target", "", "Target base directory")
	f.Bool("preserve-source-name", d.PreserveSourceDirName, "Mirror into <target>/<source name>. Set to false to mirror into <target> directly.")
	f.Bool("dry-run", d.DryRun, "Show what would be done without making any changes.")
	f.String("log-level", d.LogLevel, "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.String("log-file", d.LogFile, "Additionally write the log to this size-rotated file.")
	f.Bool("quiet", d.Quiet, "Suppress all output below WARN.")
	f.Bool("fail-on-errors", d.FailOnErrors, "Exit with an error when part of the mirror could not be completed.")
	f.Bool("metrics", d.Metrics, "Log progress and a summary of counted operations.")
	f.String("manifest", d.Manifest, "Write a JSON-lines record of the run (.gz and .zst are compressed).")
	f.Int("workers", d.Engine.Workers, "Number of concurrent comparison workers (1 walks sequentially).")
	f.Duration("task-timeout", d.Engine.TaskTimeout, "Maximum time to compare one directory before it is skipped.")
	f.Int("retry-count", d.Engine.RetryCount, "Number of retries for failed file copies.")
	f.Duration("retry-wait", d.Engine.RetryWait, "Time to wait between retries.")
	f.Duration("mod-time-window", d.Engine.ModTimeWindow, "Modification times within this window are considered equal (0=exact).")
	f.Int("buffer-size-kb", d.Engine.BufferSizeKB, "Size of the I/O buffer in kilobytes for file copies.")
}

// loadConfig layers the flags of cmd and the positional source and target
// arguments over the environment, the config file and the defaults. With
// fileOptional set, a --config file that does not exist yet is skipped.
func loadConfig(cmd *cobra.Command, args []string, fileOptional bool) (config.Config, error) {
	v := config.NewViper()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return config.Config{}, fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	if len(args) > 0 {
		v.Set("source", args[0])
	}
	if len(args) > 1 {
		v.Set("target", args[1])
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	if fileOptional && configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return config.Decode(v)
		}
	}
	return config.Load(v, configFile)
}
