package groups

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal"
	"github.com/tinyland-inc/qunbridge/pkg/channels"
	"github.com/tinyland-inc/qunbridge/pkg/session"
)

func groupsCmd(cmd *cobra.Command, timeout int) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	internal.SetupLogging(cfg, false)

	transport, err := channels.NewTransport(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	return listGroups(ctx, transport, cfg.Bridge.GroupName, cmd.OutOrStdout())
}

// listGroups connects once, prints every group and marks the one name
// resolves to.
func listGroups(ctx context.Context, transport channels.Transport, name string, w io.Writer) error {
	sess := session.New(transport, session.Options{})
	defer sess.Close()

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	groups, err := sess.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}

	var bound string
	if name != "" {
		if id, err := session.Resolve(groups, name); err == nil {
			bound = string(id)
		}
	}

	fmt.Fprintf(w, "%d groups on %s:\n", len(groups), transport.Name())
	for _, g := range groups {
		mark := " "
		if bound != "" && string(g.ID) == bound {
			mark = "✓"
		}
		fmt.Fprintf(w, "  %s %s\t%s\n", mark, g.ID, g.Name)
	}

	switch {
	case name == "":
		fmt.Fprintln(w, "No group name configured; the bridge is disabled.")
	case bound == "":
		fmt.Fprintf(w, "⚠ No group named %q; the bridge would stay unresolved.\n", name)
	default:
		fmt.Fprintf(w, "%q resolves to %s\n", name, bound)
	}
	return nil
}
