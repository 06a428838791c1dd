package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/manifest"
	"github.com/paulschiretz/pgl-mirror/pkg/pathmirror"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/preflight"
)

// ErrIncomplete is returned by RunSync when failOnErrors is set and part of
// the mirror could not be compared or applied.
var ErrIncomplete = errors.New("mirror incomplete")

func newSyncCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "sync [source] [target]",
		Short: "Mirror the source directory into the target",
		Example: `  # Mirror ~/photos into /mnt/backup/photos
  pgl-mirror sync ~/photos /mnt/backup

  # Show what would change without touching the target
  pgl-mirror sync --dry-run ~/photos /mnt/backup`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runConfig, err := loadConfig(cmd, args, false)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return RunSync(cmd.Context(), runConfig)
		},
	}
	addConfigFlags(c)
	return c
}

// RunSync handles the logic for one mirror run.
func RunSync(ctx context.Context, runConfig config.Config) error {
	if err := setupLogging(runConfig); err != nil {
		return err
	}

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(true); err != nil {
		return err
	}
	runConfig.LogSummary()

	absTargetRoot := runConfig.TargetRoot()
	if err := preflight.Run(runConfig.Source, absTargetRoot, preflight.NewPlan(runConfig.DryRun)); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	// Ensure exclusive access to the target root.
	if !runConfig.DryRun {
		lock, err := lockfile.Acquire(ctx, absTargetRoot)
		if err != nil {
			return fmt.Errorf("failed to acquire lock on target: %w", err)
		}
		defer lock.Release()
	}

	startTime := time.Now()
	mirror := pathmirror.NewPathMirror(afero.NewOsFs())
	res, err := mirror.Mirror(ctx, runConfig.Source, absTargetRoot, runConfig.MirrorPlan())
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}

	if runConfig.Manifest != "" {
		if err := writeManifest(runConfig.Manifest, res); err != nil {
			return err
		}
	}

	if res.Incomplete() {
		plog.Warn(buildinfo.Name+" finished with problems.",
			"duration", duration,
			"read_errors", len(res.ReadErrors),
			"timeouts", len(res.Timeouts),
			"failures", len(res.Failures),
		)
		if runConfig.FailOnErrors {
			return fmt.Errorf("%w: %d read errors, %d timeouts, %d failures",
				ErrIncomplete, len(res.ReadErrors), len(res.Timeouts), len(res.Failures))
		}
		return nil
	}
	plog.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}

func setupLogging(c config.Config) error {
	plog.SetLevel(plog.LevelFromString(c.LogLevel))
	plog.SetQuiet(c.Quiet)
	if err := plog.SetLogFile(c.LogFile); err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	return nil
}

// writeManifest records the outcome of res at path.
func writeManifest(path string, res *pathmirror.Result) error {
	w, err := manifest.Create(path, manifest.Header{
		Tool:      buildinfo.Name,
		Version:   buildinfo.Version,
		Source:    res.Source,
		Target:    res.Target,
		DryRun:    res.DryRun,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	for _, e := range manifestEntries(res) {
		if err := w.Write(e); err != nil {
			w.Abort()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	plog.Info("Manifest written", "path", path)
	return nil
}

// manifestEntries lists the planned actions of res with their outcome,
// followed by everything that kept the run from being complete.
func manifestEntries(res *pathmirror.Result) []manifest.Entry {
	failed := make(map[string]error, len(res.Failures))
	for _, f := range res.Failures {
		failed[f.Action.String()+"\x00"+f.Target] = f.Err
	}
	status := func(action pathmirror.Action, target string) (string, string) {
		if res.DryRun {
			return manifest.StatusPlanned, ""
		}
		if err, ok := failed[action.String()+"\x00"+target]; ok {
			return manifest.StatusFailed, err.Error()
		}
		return manifest.StatusApplied, ""
	}

	entries := make([]manifest.Entry, 0, len(res.Updates)+len(res.Removals)+len(res.Ambiguous)+len(res.Timeouts)+len(res.ReadErrors))
	for _, u := range res.Updates {
		st, msg := status(pathmirror.ActionCopy, u.Target)
		entries = append(entries, manifest.Entry{Action: pathmirror.ActionCopy.String(), Source: u.Source, Target: u.Target, Status: st, Error: msg})
	}
	for _, path := range res.Removals {
		st, msg := status(pathmirror.ActionRemove, path)
		entries = append(entries, manifest.Entry{Action: pathmirror.ActionRemove.String(), Target: path, Status: st, Error: msg})
	}
	for _, path := range res.Ambiguous {
		entries = append(entries, manifest.Entry{Source: path, Status: manifest.StatusAmbiguous})
	}
	for _, to := range res.Timeouts {
		entries = append(entries, manifest.Entry{Source: to.LeftPath, Status: manifest.StatusTimeout, Error: "comparison timed out after " + to.After.String()})
	}
	for _, re := range res.ReadErrors {
		entries = append(entries, manifest.Entry{Source: re.Path, Status: manifest.StatusReadError, Error: re.Err.Error()})
	}
	return entries
}
