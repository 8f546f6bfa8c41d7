package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal"
	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/channels"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/notifier"
	"github.com/tinyland-inc/qunbridge/pkg/session"
)

var errDisabled = errors.New("no group name configured")

func notifyCmd(cmd *cobra.Command, id, title, permalink, itemType string, timeout int) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	internal.SetupLogging(cfg, false)

	transport, err := channels.NewTransport(cfg)
	if err != nil {
		return err
	}

	item := notifier.ContentItem{
		ID:        notifier.ItemID(id),
		Title:     title,
		Type:      notifier.ParseItemType(itemType),
		Permalink: permalink,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	err = notifyOnce(ctx, cfg, transport, item)
	if errors.Is(err, notifier.ErrExcluded) {
		fmt.Fprintf(cmd.OutOrStdout(), "Skipped: %s articles are not announced\n", item.Type)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Sent: %s\n", notifier.Format(cfg.Bridge.BaseURL, item))
	return nil
}

// notifyOnce connects, binds the configured group, announces item and
// waits until the transport accepted or refused the send.
func notifyOnce(ctx context.Context, cfg *config.Config, transport channels.Transport, item notifier.ContentItem) error {
	if !cfg.Bridge.Enabled() {
		return errDisabled
	}

	sent := make(chan error, 1)
	sess := session.New(transport, session.Options{
		OutboundQueueSize: 1,
		OnSent: func(_ bus.OutboundMessage, err error) {
			select {
			case sent <- err:
			default:
			}
		},
	})
	defer sess.Close()

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	groups, err := sess.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	id, err := session.Resolve(groups, cfg.Bridge.GroupName)
	if err != nil {
		return err
	}
	if _, err := sess.Bind(id); err != nil {
		return err
	}

	n := notifier.New(cfg.Bridge.BaseURL, cfg.Bridge.ExcludedTypes, sess)
	if err := n.Notify(ctx, item); err != nil {
		return err
	}

	select {
	case err := <-sent:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
