package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segyhp/library-engine/internal/domain"
	"github.com/segyhp/library-engine/pkg/logger"
	"github.com/segyhp/library-engine/pkg/redisstore"
)

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type cached struct {
	next  Catalog
	store Store
	ttl   time.Duration
	log   *logger.Logger
}

// WithCache serves repeat lookups from Redis. Cache failures fall through to
// the wrapped catalog; misses are never cached.
func WithCache(next Catalog, store Store, ttl time.Duration, log *logger.Logger) Catalog {
	if log == nil {
		log = logger.Nop()
	}
	return &cached{next: next, store: store, ttl: ttl, log: log}
}

func cacheKey(bookID string) string {
	return redisstore.BuildKey("catalog", "book", bookID)
}

func (c *cached) Lookup(ctx context.Context, bookID string) (*domain.BookSnapshot, error) {
	key := cacheKey(bookID)

	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var book domain.BookSnapshot
		if json.Unmarshal([]byte(raw), &book) == nil {
			return &book, nil
		}
		c.log.Warn(c.log.WithField(ctx, "book_id", bookID), "discarding undecodable catalog cache entry")
	case !errors.Is(err, redisstore.ErrMiss):
		c.log.Error(c.log.WithField(ctx, "book_id", bookID), "catalog cache read failed", err)
	}

	book, err := c.next.Lookup(ctx, bookID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(book)
	if err == nil {
		err = c.store.Set(ctx, key, payload, c.ttl)
	}
	if err != nil {
		c.log.Error(c.log.WithField(ctx, "book_id", bookID), "catalog cache write failed", err)
	}
	return book, nil
}
