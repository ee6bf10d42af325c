package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"
)

// limiterDatabase keeps rate limit counters apart from the cache and job keys in DB 0.
const limiterDatabase = 1

// NewLimiterStorage returns Redis storage for the rate limiter on the same
// server as client, or nil when there is no client.
func NewLimiterStorage(client *goredis.Client) fiber.Storage {
	if client == nil {
		return nil
	}
	host := "localhost"
	port := 6379
	opts := client.Options()
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
