package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/geostream/internal/domain"
)

const (
	fleetGeoKey        = "fleet:geo"
	vehiclesChannel    = "fleet:vehicles"
	transitionsChannel = "fleet:transitions"
	alertsChannel      = "fleet:alerts"

	vehicleStateTTL = 30 * time.Second
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func vehicleStateKey(id string) string {
	return fmt.Sprintf("vehicle:%s:state", id)
}

// MirrorVehicle writes the merged vehicle record, its position in the fleet
// geo set, and a pub/sub notification in one round trip.
func (r *RedisStore) MirrorVehicle(ctx context.Context, v domain.Vehicle) error {
	state := map[string]interface{}{
		"vehicle_id":   v.ID,
		"trip_id":      v.TripID,
		"driver_name":  v.DriverName,
		"plate_number": v.PlateNumber,
		"lat":          v.Location.Lat,
		"lng":          v.Location.Lng,
		"speed_kmh":    v.Speed,
		"status":       string(v.Status),
		"eta_minutes":  v.ETAMinutes,
		"updated_at":   v.UpdatedAt.UnixMilli(),
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal vehicle: %w", err)
	}

	key := vehicleStateKey(v.ID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, state)
	pipe.Expire(ctx, key, vehicleStateTTL)
	if v.Location != (domain.Location{}) {
		pipe.GeoAdd(ctx, fleetGeoKey, &redis.GeoLocation{
			Name:      v.ID,
			Longitude: v.Location.Lng,
			Latitude:  v.Location.Lat,
		})
	}
	pipe.Publish(ctx, vehiclesChannel, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (r *RedisStore) PublishTransition(ctx context.Context, e domain.TransitionEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}
	return r.client.Publish(ctx, transitionsChannel, payload).Err()
}

func (r *RedisStore) PublishAlert(ctx context.Context, a domain.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	return r.client.Publish(ctx, alertsChannel, payload).Err()
}

// GetAPIKey returns the operator bound to apiKey, or "" when none is.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	val, err := r.client.Get(ctx, "operator:auth:"+apiKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

// ClaimAlert reports whether (vehicleID, kind) may fire now. A successful
// claim suppresses the same pair for ttl.
func (r *RedisStore) ClaimAlert(ctx context.Context, vehicleID string, kind domain.AlertKind, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("alert:%s:%s", vehicleID, kind)
	ok, err := r.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim failed: %w", err)
	}
	return ok, nil
}
