package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	storagejanitor "github.com/bit2swaz/storage-janitor"
	"github.com/bit2swaz/storage-janitor/internal/config"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Generate a janitor.yml configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := config.DefaultPath
			if len(args) == 1 {
				target = args[0]
			}
			return runInit(cmd, target, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, target string, force bool) error {
	if _, err := os.Stat(target); err == nil && !force {
		return fmt.Errorf("%s already exists", target)
	}

	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(target, storagejanitor.JanitorConfigTemplate(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}

	logInfo(cmd.OutOrStdout(), fmt.Sprintf("Generated %s", filepath.Base(target)))
	return nil
}
