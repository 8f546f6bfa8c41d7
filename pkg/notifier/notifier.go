// Package notifier announces newly created articles in the bound chat group.
package notifier

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tinyland-inc/qunbridge/pkg/logger"
	"github.com/tinyland-inc/qunbridge/pkg/telemetry"
)

// ErrExcluded is returned for items whose type is not announced.
var ErrExcluded = errors.New("item type excluded")

// DefaultExcluded are the types never announced unless configured otherwise.
var DefaultExcluded = []string{string(TypeDiscussion), string(TypeThought)}

// Sender delivers text to the currently bound group.
type Sender interface {
	Send(text string) error
}

type Notifier struct {
	baseURL  string
	excluded map[ItemType]struct{}
	sender   Sender
}

// New builds a Notifier. excluded holds type names or codes; nil uses
// DefaultExcluded.
func New(baseURL string, excluded []string, sender Sender) *Notifier {
	if excluded == nil {
		excluded = DefaultExcluded
	}
	set := make(map[ItemType]struct{}, len(excluded))
	for _, t := range excluded {
		set[ParseItemType(t)] = struct{}{}
	}
	return &Notifier{baseURL: baseURL, excluded: set, sender: sender}
}

func (n *Notifier) Notifiable(item ContentItem) bool {
	_, skip := n.excluded[item.Type]
	return !skip
}

// Format builds the announcement text. baseURL and permalink are joined
// as-is.
func Format(baseURL string, item ContentItem) string {
	return item.Title + " " + baseURL + item.Permalink
}

// Notify sends one announcement for item, or returns ErrExcluded. It never
// retries; a send the session cannot accept is returned wrapped.
func (n *Notifier) Notify(ctx context.Context, item ContentItem) (err error) {
	_, span := telemetry.StartSpan(ctx, "notifier.notify",
		attribute.String("item.id", string(item.ID)),
		attribute.String("item.type", string(item.Type)),
	)
	defer func() {
		if errors.Is(err, ErrExcluded) {
			telemetry.EndSpan(span, nil)
			return
		}
		telemetry.EndSpan(span, err)
	}()

	if !n.Notifiable(item) {
		logger.DebugCF("notifier", "Skipping excluded item", map[string]any{
			"id":   string(item.ID),
			"type": string(item.Type),
		})
		return ErrExcluded
	}

	if err := n.sender.Send(Format(n.baseURL, item)); err != nil {
		return fmt.Errorf("notify %s: %w", item.ID, err)
	}
	logger.InfoCF("notifier", "Article announced", map[string]any{
		"id":    string(item.ID),
		"title": item.Title,
	})
	return nil
}
