package keywords

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPostgresQuery selects the titles of tags that carry an icon, most
// referenced first. $1 is the limit; NULL means no limit.
const DefaultPostgresQuery = `SELECT tagTitle FROM symphony_tag
WHERE tagIconPath <> ''
ORDER BY tagReferenceCount DESC, oId ASC
LIMIT $1`

// PostgresSource reads keywords from the community database.
type PostgresSource struct {
	pool  *pgxpool.Pool
	query string
}

func NewPostgresSource(ctx context.Context, dsn, query string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("keywords: open postgres: %w", err)
	}
	if query == "" {
		query = DefaultPostgresQuery
	}
	return &PostgresSource{pool: pool, query: query}, nil
}

func (s *PostgresSource) Name() string { return "postgres" }

func (s *PostgresSource) Fetch(ctx context.Context, limit int) ([]Keyword, error) {
	var arg any
	if limit > 0 {
		arg = limit
	}
	rows, err := s.pool.Query(ctx, s.query, arg)
	if err != nil {
		return nil, err
	}
	titles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return FromTitles(titles), nil
}

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
