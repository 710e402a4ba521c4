package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-feeder/internal/record"
)

const (
	vehicleKeyPrefix = "vehicle:"
	vehicleListKey   = "vehicles"
)

// RedisMirror publishes the latest row of every vehicle to Redis for
// readers that cannot open the CSV. The CSV stays the store of record.
type RedisMirror struct {
	rdb *redis.Client
}

// NewRedisMirror connects and pings addr.
func NewRedisMirror(ctx context.Context, addr string, db int) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DB:          db,
		DialTimeout: 2 * time.Second,
		MaxRetries:  1,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisMirror{rdb: rdb}, nil
}

func vehicleKey(id string) string { return vehicleKeyPrefix + id }

func vehicleHash(rec record.VehicleRecord) []any {
	return []any{
		"id", rec.ID,
		"vin", rec.VIN,
		"coordinates", rec.Coordinates,
		"odometer", rec.Odometer,
	}
}

// Publish overwrites the hash of one vehicle.
func (m *RedisMirror) Publish(ctx context.Context, rec record.VehicleRecord) error {
	if err := m.rdb.HSet(ctx, vehicleKey(rec.ID), vehicleHash(rec)...).Err(); err != nil {
		return fmt.Errorf("redis HSET %s: %w", vehicleKey(rec.ID), err)
	}
	return nil
}

// PublishAll replaces the id list and every hash in one MULTI/EXEC. Hashes
// of ids missing from rows are deleted in the same transaction. The previous
// list is read under WATCH so a concurrent rewrite fails the transaction
// instead of leaving stale hashes behind.
func (m *RedisMirror) PublishAll(ctx context.Context, rows []record.VehicleRecord) error {
	keep := make(map[string]struct{}, len(rows))
	for _, rec := range rows {
		keep[rec.ID] = struct{}{}
	}
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		prev, err := tx.LRange(ctx, vehicleListKey, 0, -1).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, id := range prev {
				if _, ok := keep[id]; !ok {
					p.Del(ctx, vehicleKey(id))
				}
			}
			p.Del(ctx, vehicleListKey)
			for _, rec := range rows {
				p.RPush(ctx, vehicleListKey, rec.ID)
				p.Del(ctx, vehicleKey(rec.ID))
				p.HSet(ctx, vehicleKey(rec.ID), vehicleHash(rec)...)
			}
			return nil
		})
		return err
	}, vehicleListKey)
	if err != nil {
		return fmt.Errorf("redis publish %d vehicles: %w", len(rows), err)
	}
	return nil
}

func (m *RedisMirror) Close() error { return m.rdb.Close() }
