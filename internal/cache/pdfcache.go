// Package cache stores rendered PDFs in Redis so identical documents are not
// rendered twice within the TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	u "awmp-pdf/internal/utils"
)

const (
	keyPrefix  = "pdfcache:"
	opTimeout  = 1 * time.Second
	defaultTTL = 1 * time.Minute
)

// PDFCache is a Redis-backed cache of rendered PDFs. A nil *PDFCache is a
// valid, always-missing cache.
type PDFCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps rdb. A non-positive ttl falls back to one minute.
func New(rdb *redis.Client, ttl time.Duration) *PDFCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &PDFCache{rdb: rdb, ttl: ttl}
}

// Key derives the cache key from the document and the print fingerprint.
func Key(html, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(html))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached PDF, or nil on a miss. Redis failures are logged and
// reported as a miss: the cache must never fail a render.
func (c *PDFCache) Get(ctx context.Context, key string) []byte {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		u.Warn("Redis read failed", "error", err)
		return nil
	}
	u.Info("PDF cache hit", "key", key)
	return data
}

// Set stores pdf under key for the cache TTL.
func (c *PDFCache) Set(ctx context.Context, key string, pdf []byte) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.rdb.Set(ctx, key, pdf, c.ttl).Err(); err != nil {
		u.Warn("Redis write failed", "error", err)
	}
}

// NewFromConfig connects to the configured Redis when caching is enabled.
func NewFromConfig(cfg u.Config) *PDFCache {
	if !cfg.Cache.PDFCacheEnabled || cfg.Cache.RedisHost == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisHost,
		DB:   cfg.Cache.PDFCacheDB,
	})
	u.Info("Using Redis for PDF cache", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.PDFCacheDB)
	return New(rdb, cfg.Cache.PDFCacheTTL)
}

// Close releases the Redis client.
func (c *PDFCache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
