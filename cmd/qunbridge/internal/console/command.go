package console

import (
	"github.com/spf13/cobra"
)

func NewConsoleCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to the bridge locally as a member of an in-memory group",
		Long: `Runs the bridge against an in-memory transport. Lines typed are delivered
as group messages and replies are printed. Commands:
  /article <permalink> <title>   announce an article
  /type <name|code> <permalink> <title>
  exit, quit`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return consoleCmd(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
