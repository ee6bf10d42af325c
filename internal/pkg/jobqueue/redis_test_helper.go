package jobqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/HostPayouts/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

const isolatedJobQueueTestRedisDB = 14

// resolveTestRedis probes the configured cache and the usual local
// endpoints, skipping the test when none answers.
func resolveTestRedis(t *testing.T) (string, string) {
	t.Helper()

	candidates := []string{
		fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
		"cache:6379",
		"127.0.0.1:6379",
	}
	password := env.GetEnv("CACHE_PASSWORD", "")

	var lastErr error
	seen := map[string]struct{}{}
	for _, addr := range candidates {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}

		client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		_ = client.Close()
		if err == nil {
			return addr, password
		}
		lastErr = err
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return "", ""
}

func newIsolatedRedisClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	addr, password := resolveTestRedis(t)
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: isolated DB flush failed (%v)", err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	return client
}
