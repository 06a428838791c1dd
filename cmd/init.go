package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func newInitCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "init [source] [target]",
		Short: "Write a configuration file with the given settings",
		Long: `init writes the effective configuration (defaults, environment, an existing
configuration file and the given flags) to ./` + config.ConfigFileName + ` or to the
file named by --config, so later runs only need 'pgl-mirror sync'.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runConfig, err := loadConfig(cmd, args, true)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.ConfigFileName
			}
			force, _ := cmd.Flags().GetBool("force")
			return RunInit(path, runConfig, force, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	addConfigFlags(c)
	c.Flags().Bool("force", false, "Overwrite an existing configuration file without asking.")
	return c
}

// RunInit validates runConfig and writes it to path. An existing file is
// only replaced when force is set or the user confirms on in.
func RunInit(path string, runConfig config.Config, force bool, in io.Reader, out io.Writer) error {
	if err := setupLogging(runConfig); err != nil {
		return err
	}
	// The source may not exist yet when the configuration is prepared.
	if err := runConfig.Validate(false); err != nil {
		return err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("could not determine absolute path for %s: %w", path, err)
	}

	if !force {
		if _, err := os.Stat(absPath); err == nil {
			fmt.Fprintf(out, "WARNING: Configuration file already exists at %s.\n", absPath)
			if !PromptForConfirmation(in, out, "Overwrite it?", false) {
				plog.Info(buildinfo.Name + " init operation canceled.")
				return nil
			}
		}
	}

	if runConfig.DryRun {
		plog.Info("[DRY RUN] WRITE CONFIG", "path", absPath)
		return nil
	}
	if err := config.Generate(absPath, runConfig, true); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(in io.Reader, out io.Writer, prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s: ", prompt, suffix)

	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
