package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

const sweepGuardKey = "sweep:settlements"

// InitRedis initializes the Redis client
func InitRedis() error {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://redis:6379" // Default Redis address for Docker
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %v", err)
	}

	RedisClient = redis.NewClient(opt)

	// Test the connection
	ctx := context.Background()
	_, err = RedisClient.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return nil
}

// AcquireSweepGuard takes the cross-instance sweep guard. Overlapping sweeps
// are safe because of the per-booking settlement lock; the guard only stops
// two sweeper instances from scanning the same batch for nothing.
func AcquireSweepGuard(ctx context.Context, ttl time.Duration) (bool, error) {
	host, _ := os.Hostname()
	return RedisClient.SetNX(ctx, sweepGuardKey, host, ttl).Result()
}

// ReleaseSweepGuard frees the sweep guard early instead of waiting out the
// TTL.
func ReleaseSweepGuard(ctx context.Context) error {
	return RedisClient.Del(ctx, sweepGuardKey).Err()
}
