package events

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

// PGListener receives article events published with pg_notify on a
// postgres channel. Each notification payload is one event document.
type PGListener struct {
	dsn     string
	channel string
	sink    Sink
	backoff time.Duration
}

func NewPGListener(dsn, channel string, sink Sink) *PGListener {
	return &PGListener{dsn: dsn, channel: channel, sink: sink, backoff: 5 * time.Second}
}

// Run listens until ctx ends, reconnecting after connection failures.
func (l *PGListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.WarnCF("events", "Postgres listener failed", map[string]any{
			"channel": l.channel,
			"error":   err.Error(),
			"retry":   l.backoff.String(),
		})

		timer := time.NewTimer(l.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return err
	}
	logger.InfoCF("events", "Listening for article events", map[string]any{"channel": l.channel})

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		item, err := DecodeArticle([]byte(n.Payload))
		if err != nil {
			logger.WarnCF("events", "Ignoring malformed notification", map[string]any{
				"channel": n.Channel,
				"error":   err.Error(),
			})
			continue
		}
		l.sink.OnArticleCreated(ctx, item)
	}
}

// Enabled reports whether l has a database to listen on.
func (l *PGListener) Enabled() bool {
	return l != nil && l.dsn != ""
}
