// Package rediscache keeps the last appointment snapshot in redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"healthconnect/backend/internal/domain"
	"healthconnect/backend/internal/store"
)

const DefaultKey = "healthconnect:appointments:snapshot"

type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type SnapshotCache struct {
	client client
	key    string
	ttl    time.Duration
}

type cachedAppointment struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start"`
	EndTime   time.Time `json:"end"`
	CreatedAt time.Time `json:"created_at"`
}

func New(c client, key string, ttl time.Duration) *SnapshotCache {
	if key == "" {
		key = DefaultKey
	}
	return &SnapshotCache{client: c, key: key, ttl: ttl}
}

// NewClient opens a redis client for the cache.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (c *SnapshotCache) Load(ctx context.Context) ([]domain.Appointment, error) {
	b, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis snapshot get: %w", err)
	}

	var rows []cachedAppointment
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}

	out := make([]domain.Appointment, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Appointment{
			ID:        r.ID,
			OwnerID:   r.OwnerID,
			Title:     r.Title,
			StartTime: r.StartTime,
			EndTime:   r.EndTime,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (c *SnapshotCache) Save(ctx context.Context, appts []domain.Appointment) error {
	rows := make([]cachedAppointment, 0, len(appts))
	for _, a := range appts {
		rows = append(rows, cachedAppointment{
			ID:        a.ID,
			OwnerID:   a.OwnerID,
			Title:     a.Title,
			StartTime: a.StartTime.UTC(),
			EndTime:   a.EndTime.UTC(),
			CreatedAt: a.CreatedAt.UTC(),
		})
	}

	b, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis snapshot set: %w", err)
	}
	return nil
}
