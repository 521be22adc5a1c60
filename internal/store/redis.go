package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
)

// Redis caches the latest sampled position per unit for dashboards, and
// carries a pub/sub channel of resolved verdicts. The whole store is
// optional: a nil *Redis is a no-op.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Close() error {
	if r == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

// RecordSample pipelines the latest reading for a unit: a hash with a short
// TTL plus a geo index keyed by yard.
func (r *Redis) RecordSample(
	ctx context.Context,
	unit, yard string,
	pos domain.Coordinates,
	speed string,
	distanceM float64,
	sampledAt time.Time,
) error {
	if r == nil {
		return nil
	}

	stateKey := fmt.Sprintf("unit:%s:state", unit)
	geoKey := fmt.Sprintf("yard:%s:geo", yard)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, stateKey, map[string]interface{}{
		"unit":       unit,
		"yard":       yard,
		"speed":      speed,
		"distance_m": distanceM,
		"sampled_at": sampledAt.Unix(),
	})
	pipe.Expire(ctx, stateKey, 5*time.Minute)
	if pos.Valid() {
		pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
			Name:      unit,
			Longitude: pos.Lon,
			Latitude:  pos.Lat,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// PublishVerdict announces a resolved movement check on the yard's alert
// channel.
func (r *Redis) PublishVerdict(ctx context.Context, unit, yard string, status domain.MovingStatus, alertTime time.Time) error {
	if r == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"unit":          unit,
		"yard":          yard,
		"moving_status": string(status),
		"alert_time":    alertTime.UTC().Format(time.RFC3339),
		"resolved_at":   time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}

	channel := fmt.Sprintf("yard:%s:alerts", yard)
	return r.client.Publish(ctx, channel, payload).Err()
}
