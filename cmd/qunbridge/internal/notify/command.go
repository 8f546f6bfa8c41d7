package notify

import (
	"github.com/spf13/cobra"
)

func NewNotifyCommand() *cobra.Command {
	var (
		id        string
		title     string
		permalink string
		itemType  string
		timeout   int
	)

	cmd := &cobra.Command{
		Use:     "notify",
		Short:   "Announce one article in the configured group and exit",
		Example: `qunbridge notify --title "Hello" --permalink /article/1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return notifyCmd(cmd, id, title, permalink, itemType, timeout)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Article id, used in logs")
	cmd.Flags().StringVar(&title, "title", "", "Article title")
	cmd.Flags().StringVar(&permalink, "permalink", "", "Article permalink, relative to bridge.base_url")
	cmd.Flags().StringVar(&itemType, "type", "normal", "Article type name or numeric code")
	cmd.Flags().IntVarP(&timeout, "timeout", "t", 30, "Seconds to wait for the send")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("permalink")

	return cmd
}
