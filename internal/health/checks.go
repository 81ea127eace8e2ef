package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// ServerCheck reports unhealthy until isRunning returns true.
func ServerCheck(isRunning func() bool) CheckFunc {
	return func(context.Context) Check {
		if !isRunning() {
			return Check{Status: StatusUnhealthy, Message: "server is not running"}
		}
		return Check{Status: StatusHealthy}
	}
}

// Pinger is the part of a Redis client the check needs.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisCheck pings the Redis server behind the redis rate limit store.
func RedisCheck(client Pinger) CheckFunc {
	return func(ctx context.Context) Check {
		if err := client.Ping(ctx).Err(); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}
