package repository

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/config"

	"github.com/redis/go-redis/v9"
)

// снимает блокировку только владелец токена
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisCoordinationRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisCoordinationRepository(client *redis.Client, prefix string) *RedisCoordinationRepository {
	if prefix == "" {
		prefix = "staybook"
	}
	return &RedisCoordinationRepository{client: client, prefix: prefix}
}

func (r *RedisCoordinationRepository) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (r *RedisCoordinationRepository) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SetNX(ctx, r.key("lock", key), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock in redis: %w", err)
	}
	return ok, nil
}

func (r *RedisCoordinationRepository) ReleaseLock(ctx context.Context, key, token string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := releaseScript.Run(ctx, r.client, []string{r.key("lock", key)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock in redis: %w", err)
	}
	return nil
}

// MarkOnce reports true only for the first caller within ttl.
func (r *RedisCoordinationRepository) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	first, err := r.client.SetNX(ctx, r.key("once", key), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark key in redis: %w", err)
	}
	return first, nil
}

// Unmark lets a key be marked again, e.g. after its processing failed.
func (r *RedisCoordinationRepository) Unmark(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, r.key("once", key)).Err(); err != nil {
		return fmt.Errorf("failed to unmark key in redis: %w", err)
	}
	return nil
}

func (r *RedisCoordinationRepository) PushDeadLetter(ctx context.Context, queue string, payload []byte) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.LPush(ctx, r.key("dead", queue), payload).Err(); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
