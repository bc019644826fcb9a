package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ukydev/fleet-telemetry/internal/models"
	"github.com/ukydev/fleet-telemetry/internal/telemetry"
)

// slotClient is the part of the redis client the cooldown needs.
type slotClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCooldown lets one alert per vehicle and alert type through per
// cooldown window. It implements telemetry.Suppressor.
type RedisCooldown struct {
	client slotClient
	ttl    time.Duration
}

var _ telemetry.Suppressor = (*RedisCooldown)(nil)

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisCooldown creates a cooldown with the given window.
func NewRedisCooldown(client redis.Cmdable, ttl time.Duration) *RedisCooldown {
	return &RedisCooldown{client: client, ttl: ttl}
}

func alertKey(vehicleID string, alertType models.AlertType) string {
	return fmt.Sprintf("alert:%s:%s", vehicleID, alertType)
}

// Allow claims the cooldown slot for the pair. It reports false while an
// earlier alert's slot is still live.
func (c *RedisCooldown) Allow(ctx context.Context, vehicleID string, alertType models.AlertType) (bool, error) {
	ok, err := c.client.SetNX(ctx, alertKey(vehicleID, alertType), "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("alert cooldown check failed: %w", err)
	}
	return ok, nil
}

// Release deletes the slot so the pair can alert again.
func (c *RedisCooldown) Release(ctx context.Context, vehicleID string, alertType models.AlertType) error {
	if err := c.client.Del(ctx, alertKey(vehicleID, alertType)).Err(); err != nil {
		return fmt.Errorf("alert cooldown release failed: %w", err)
	}
	return nil
}
