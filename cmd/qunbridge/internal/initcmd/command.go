package initcmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal"
	"github.com/tinyland-inc/qunbridge/pkg/config"
)

var errExists = errors.New("config already exists")

func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := internal.GetConfigPath()
			if err := writeDefaultConfig(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Config written to %s\n", internal.Logo, path)
			fmt.Fprintln(cmd.OutOrStdout(), "Set bridge.group_name and bridge.base_url, then run: qunbridge gateway")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config")

	return cmd
}

func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s (use --force to overwrite)", errExists, path)
	}
	return config.SaveConfig(path, config.DefaultConfig())
}
