package groups

import (
	"github.com/spf13/cobra"
)

func NewGroupsCommand() *cobra.Command {
	var timeout int

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List the groups visible to the transport and show which one the bridge binds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return groupsCmd(cmd, timeout)
		},
	}

	cmd.Flags().IntVarP(&timeout, "timeout", "t", 30, "Seconds to wait for the connection")

	return cmd
}
