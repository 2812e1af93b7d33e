package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisJournalConfig configures the Redis-backed journal. Useful when
// several hosts run batches for different deployments and operators want
// one place to inspect in-flight runs.
type RedisJournalConfig struct {
	Address  string
	Password string
	Database int

	// Prefix is prepended to all journal keys.
	Prefix string

	// TTL expires finished run records (0 = keep forever).
	TTL time.Duration

	// Timeout bounds each Redis operation.
	Timeout time.Duration
}

// DefaultRedisJournalConfig returns sensible defaults.
func DefaultRedisJournalConfig(address string) RedisJournalConfig {
	return RedisJournalConfig{
		Address: address,
		Prefix:  "retireflow:runs:",
		TTL:     30 * 24 * time.Hour,
		Timeout: 5 * time.Second,
	}
}

// RedisJournal stores run records in Redis.
type RedisJournal struct {
	cfg    RedisJournalConfig
	client *redis.Client
}

// NewRedisJournal connects and pings the server.
func NewRedisJournal(cfg RedisJournalConfig) (*RedisJournal, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "retireflow:runs:"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("workflow: connect to Redis journal: %w", err)
	}

	return &RedisJournal{cfg: cfg, client: client}, nil
}

func (j *RedisJournal) key(id string) string {
	return j.cfg.Prefix + id
}

func (j *RedisJournal) Save(ctx context.Context, r *Run) error {
	r.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("workflow: marshal run: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	ttl := time.Duration(0)
	if r.Stage == StageDone && j.cfg.TTL > 0 {
		ttl = j.cfg.TTL
	}
	if err := j.client.Set(ctx, j.key(r.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("workflow: save run to Redis: %w", err)
	}
	return nil
}

func (j *RedisJournal) Load(ctx context.Context, id string) (*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	data, err := j.client.Get(ctx, j.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("workflow: load run from Redis: %w", err)
	}

	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("workflow: decode run %s: %w", id, err)
	}
	return &r, nil
}

func (j *RedisJournal) Close() error {
	return j.client.Close()
}
