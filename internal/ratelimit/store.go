// Package ratelimit provides the fiber.Storage used by the request limiter.
package ratelimit

import (
	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"

	u "awmp-pdf/internal/utils"
)

// RedisConfig selects the Redis instance holding limiter counters.
type RedisConfig struct {
	Addr string
	DB   int
}

// newMemory is swapped in tests. Memory storage starts a GC goroutine, so it
// is only built when it will be used.
var newMemory = func() fiber.Storage {
	return memoryStorage.New()
}

// NewStore returns Redis-backed storage when an address is configured and
// reachable, and in-memory storage otherwise. It never returns nil.
func NewStore(cfg RedisConfig) (store fiber.Storage) {
	if cfg.Addr == "" {
		return newMemory()
	}

	// The redis storage constructor panics when it cannot reach the server.
	defer func() {
		if r := recover(); r != nil {
			u.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
			store = newMemory()
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.Addr},
		Database: cfg.DB,
	})
	u.Info("Using Redis for rate limiting", "addr", cfg.Addr, "db", cfg.DB)
	return store
}
