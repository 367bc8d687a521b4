package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis checkpoint backend
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string `toml:"address"`

	// Password for Redis authentication (optional)
	Password string `toml:"password"`

	// Database number to use (default: 0)
	Database int `toml:"database"`

	// Prefix is prepended to both set keys
	Prefix string `toml:"prefix"`

	// Timeout for each Redis round trip
	Timeout time.Duration `toml:"timeout"`
}

// DefaultRedisConfig returns sensible defaults
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address: "localhost:6379",
		Prefix:  "mjlogconv:",
		Timeout: 5 * time.Second,
	}
}

// saddChunk bounds the argument count of a single SADD
const saddChunk = 5000

// RedisBackend keeps the two ID sets as Redis sets
type RedisBackend struct {
	cfg    RedisConfig
	client redis.UniversalClient
}

// NewRedisBackend connects to Redis and verifies the connection
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	backend := NewRedisBackendWithClient(client, cfg)

	pingCtx, cancel := backend.withTimeout(ctx)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return backend, nil
}

// NewRedisBackendWithClient wraps an existing client
func NewRedisBackendWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisBackend {
	return &RedisBackend{cfg: cfg, client: client}
}

// Name identifies the backend in logs
func (b *RedisBackend) Name() string {
	return "redis:" + b.cfg.Prefix
}

func (b *RedisBackend) completedKey() string { return b.cfg.Prefix + "completed" }
func (b *RedisBackend) failedKey() string    { return b.cfg.Prefix + "failed" }

// Load reads both sets. Missing keys are empty sets.
func (b *RedisBackend) Load(ctx context.Context) (Snapshot, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	pipe := b.client.Pipeline()
	completed := pipe.SMembers(ctx, b.completedKey())
	failed := pipe.SMembers(ctx, b.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("failed to load checkpoints from Redis: %w", err)
	}

	return Snapshot{
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Save replaces both sets inside a MULTI/EXEC transaction
func (b *RedisBackend) Save(ctx context.Context, snap Snapshot) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.completedKey(), b.failedKey())
		saddChunks(ctx, pipe, b.completedKey(), snap.Completed)
		saddChunks(ctx, pipe, b.failedKey(), snap.Failed)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoints to Redis: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.cfg.Timeout)
}

func saddChunks(ctx context.Context, pipe redis.Pipeliner, key string, ids []string) {
	for start := 0; start < len(ids); start += saddChunk {
		end := min(start+saddChunk, len(ids))
		members := make([]interface{}, 0, end-start)
		for _, id := range ids[start:end] {
			members = append(members, id)
		}
		pipe.SAdd(ctx, key, members...)
	}
}
