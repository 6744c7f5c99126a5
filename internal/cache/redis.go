// Package cache wires the optional redis connection backing the pause sets.
package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Connect opens and pings a redis client. An empty addr returns nil: the
// pause registry then runs on memory alone.
func Connect(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
