package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wagerhall/wager-server/internal/config"
	"github.com/wagerhall/wager-server/internal/persistence"
)

const keyPrefix = "wager"

func sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", keyPrefix, id)
}

func statusIndexKey(status string) string {
	return fmt.Sprintf("%s:idx:status:%s", keyPrefix, status)
}

var indexedStatuses = []string{"WAITING", "ACTIVE", "COMPLETED", "ABANDONED"}

// RedisSessionRepository stores session records as JSON values with a
// per-status index set.
type RedisSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionRepository connects to cfg.URL and verifies the connection.
func NewRedisSessionRepository(ctx context.Context, cfg config.RedisConfig) (*RedisSessionRepository, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisSessionRepositoryWithClient(client, cfg.RecordTTL), nil
}

// NewRedisSessionRepositoryWithClient wraps an existing client. A zero ttl
// keeps records forever.
func NewRedisSessionRepositoryWithClient(client *redis.Client, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{client: client, ttl: ttl}
}

var _ persistence.Store = (*RedisSessionRepository)(nil)

// SaveSession writes rec and moves its id into the index of its status.
func (r *RedisSessionRepository) SaveSession(ctx context.Context, rec persistence.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", rec.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(rec.ID), data, r.ttl)
	for _, status := range indexedStatuses {
		if status != rec.Status {
			pipe.SRem(ctx, statusIndexKey(status), rec.ID)
		}
	}
	pipe.SAdd(ctx, statusIndexKey(rec.Status), rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}
	return nil
}

// GetSession loads the record stored for id.
func (r *RedisSessionRepository) GetSession(ctx context.Context, id string) (persistence.Record, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return persistence.Record{}, persistence.ErrNotFound
		}
		return persistence.Record{}, fmt.Errorf("get session %s: %w", id, err)
	}

	var rec persistence.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return persistence.Record{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return rec, nil
}

// IDsWithStatus returns the ids indexed under status.
func (r *RedisSessionRepository) IDsWithStatus(ctx context.Context, status string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, statusIndexKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s sessions: %w", status, err)
	}
	return ids, nil
}

// AbandonStale marks every WAITING or ACTIVE record ABANDONED. Escrow lives
// in memory, so such records can only be left over from a previous process.
func (r *RedisSessionRepository) AbandonStale(ctx context.Context, at time.Time) (int, error) {
	swept := 0
	for _, status := range []string{"WAITING", "ACTIVE"} {
		ids, err := r.IDsWithStatus(ctx, status)
		if err != nil {
			return swept, err
		}
		for _, id := range ids {
			rec, err := r.GetSession(ctx, id)
			if errors.Is(err, persistence.ErrNotFound) {
				// Expired record; drop the dangling index entry.
				r.client.SRem(ctx, statusIndexKey(status), id)
				continue
			}
			if err != nil {
				return swept, err
			}
			rec.Status = "ABANDONED"
			rec.CompletedAt = &at
			if err := r.SaveSession(ctx, rec); err != nil {
				return swept, err
			}
			swept++
		}
	}
	return swept, nil
}

// Close closes the redis client.
func (r *RedisSessionRepository) Close() error {
	return r.client.Close()
}
