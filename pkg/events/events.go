// Package events receives "article created" events from the content
// platform and hands them to the bridge.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tinyland-inc/qunbridge/pkg/notifier"
)

var ErrMissingArticle = errors.New("event carries no article")

// Sink consumes created articles. Implementations contain their own failures.
type Sink interface {
	OnArticleCreated(ctx context.Context, item notifier.ContentItem)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, item notifier.ContentItem)

func (f SinkFunc) OnArticleCreated(ctx context.Context, item notifier.ContentItem) { f(ctx, item) }

// DecodeArticle parses an event payload. The article is either wrapped as
// {"article": {...}} or sent bare.
func DecodeArticle(data []byte) (notifier.ContentItem, error) {
	var envelope struct {
		Article *notifier.ContentItem `json:"article"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&envelope); err != nil {
		return notifier.ContentItem{}, fmt.Errorf("decode event: %w", err)
	}
	if envelope.Article != nil {
		return *envelope.Article, nil
	}

	var item notifier.ContentItem
	if err := json.Unmarshal(data, &item); err != nil {
		return notifier.ContentItem{}, fmt.Errorf("decode event: %w", err)
	}
	if item.ID == "" && item.Title == "" && item.Permalink == "" {
		return notifier.ContentItem{}, ErrMissingArticle
	}
	return item, nil
}
