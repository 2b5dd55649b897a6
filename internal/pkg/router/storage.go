package router

import (
	"context"
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/storage/redis"

	"github.com/pythonitalia/pycon-association/internal/pkg/cache"
	"github.com/pythonitalia/pycon-association/internal/pkg/env"
)

// limiterDatabase keeps rate limit counters apart from the cache (DB 0).
const limiterDatabase = 3

// NewLimiterStorage returns Redis storage for the rate limiter on the same
// server as the cache. It returns nil when the cache is unreachable.
func NewLimiterStorage(ctx context.Context) fiber.Storage {
	if err := cache.Ping(ctx); err != nil {
		log.Warnf("[Router] Redis unavailable, rate limiting in memory: %v", err)
		return nil
	}
	cacheClient := cache.GetClient()

	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnvInt("CACHE_PORT", 6379)
	password := env.GetEnv("CACHE_PASSWORD", "")
	addr := cacheClient.Options().Addr
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	if p := cacheClient.Options().Password; p != "" {
		password = p
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
