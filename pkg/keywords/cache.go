package keywords

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

// Cache holds the latest keyword snapshot of a Source. Readers never see a
// partially refreshed list; a failed refresh keeps the previous snapshot.
type Cache struct {
	source   Source
	snapshot atomic.Pointer[[]Keyword]
	mu       sync.Mutex // serializes refreshes
	loadedAt atomic.Int64
	onLoad   func(count int)
}

func NewCache(source Source) *Cache {
	return &Cache{source: source}
}

// OnRefresh registers fn to run after every successful refresh. It must be
// called before the cache is shared.
func (c *Cache) OnRefresh(fn func(count int)) {
	c.onLoad = fn
}

func (c *Cache) SourceName() string {
	return c.source.Name()
}

// Keywords returns the current snapshot, loading it on first use. The
// returned slice is shared and must not be modified.
func (c *Cache) Keywords(ctx context.Context, limit int) ([]Keyword, error) {
	if kws := c.snapshot.Load(); kws != nil {
		return truncate(*kws, limit), nil
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return truncate(*c.snapshot.Load(), limit), nil
}

// Refresh fetches the full list from the source and swaps it in.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kws, err := c.source.Fetch(ctx, 0)
	if err != nil {
		return fmt.Errorf("refresh %s keywords: %w", c.source.Name(), err)
	}
	if kws == nil {
		kws = []Keyword{}
	}
	c.snapshot.Store(&kws)
	c.loadedAt.Store(time.Now().UnixNano())
	if c.onLoad != nil {
		c.onLoad(len(kws))
	}

	logger.DebugCF("keywords", "Keywords refreshed", map[string]any{
		"source": c.source.Name(),
		"count":  len(kws),
	})
	return nil
}

// LoadedAt reports when the snapshot was last replaced; zero before the first load.
func (c *Cache) LoadedAt() time.Time {
	n := c.loadedAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run refreshes on the cron schedule expr until ctx ends. An empty expr
// returns immediately.
func (c *Cache) Run(ctx context.Context, expr string) error {
	if expr == "" {
		return nil
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("keywords: invalid refresh schedule %q", expr)
	}

	for {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			return fmt.Errorf("keywords: schedule %q: %w", expr, err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			logger.WarnCF("keywords", "Scheduled refresh failed", map[string]any{
				"source": c.source.Name(),
				"error":  err.Error(),
			})
		}
	}
}

// Close releases the source's resources, if it holds any.
func (c *Cache) Close() error {
	if closer, ok := c.source.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
