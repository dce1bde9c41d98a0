// Package cache is the optional Redis-backed PDF response cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"svg2pdf/internal/infra/logging"
)

const (
	keyPrefix      = "svg2pdf:"
	defaultTTL     = 1 * time.Minute
	requestTimeout = 1 * time.Second
)

// PDFCache stores rendered PDFs keyed by their input markup. Redis errors are
// logged and treated as misses.
type PDFCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New returns a cache on rdb. A ttl <= 0 falls back to one minute.
func New(rdb *redis.Client, ttl time.Duration) *PDFCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &PDFCache{rdb: rdb, ttl: ttl}
}

// NewClient opens a go-redis client for addr and db.
func NewClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, DB: db})
}

// Key derives the cache key for markup. The background flag is part of the
// key because it changes the printed output.
func Key(markup string, printBackground bool) string {
	h := sha256.New()
	h.Write([]byte(markup))
	if printBackground {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached PDF, or nil on a miss.
func (c *PDFCache) Get(ctx context.Context, key string) []byte {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	cached, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return nil
	}
	logging.Debug("PDF cache hit", "key", key)
	return cached
}

// Set stores data under key with the cache TTL.
func (c *PDFCache) Set(ctx context.Context, key string, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}

// Ping checks that Redis is reachable.
func (c *PDFCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

func (c *PDFCache) Close() error {
	return c.rdb.Close()
}
