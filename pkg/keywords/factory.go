package keywords

import (
	"context"
	"fmt"
	"time"

	"github.com/tinyland-inc/qunbridge/pkg/config"
)

// NewSource builds the source selected by cfg.Keywords.Source.
func NewSource(ctx context.Context, cfg *config.Config) (Source, error) {
	kc := cfg.Keywords
	switch kc.Source {
	case "", "static":
		return NewStaticSource(kc.Static), nil
	case "file":
		return NewFileSource(cfg.KeywordFilePath()), nil
	case "postgres":
		return NewPostgresSource(ctx, kc.Postgres.DSN, kc.Postgres.Query)
	case "http":
		return NewHTTPSource(HTTPOptions{
			URL:          kc.HTTP.URL,
			TokenURL:     kc.HTTP.TokenURL,
			ClientID:     kc.HTTP.ClientID,
			ClientSecret: kc.HTTP.ClientSecret,
			Scopes:       kc.HTTP.Scopes,
			Timeout:      time.Duration(kc.HTTP.Timeout) * time.Second,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, kc.Source)
	}
}
