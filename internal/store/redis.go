package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "bloodlink:claim:"

// RedisClaimStore はRedisのSETNXで実装したClaimStore。
type RedisClaimStore struct {
	client *redis.Client
}

// NewRedisClaimStore はRedisClaimStoreを生成する。
func NewRedisClaimStore(client *redis.Client) *RedisClaimStore {
	return &RedisClaimStore{client: client}
}

// Claim はSET NXでキーを取得する。既に存在する場合はfalseを返す。
func (s *RedisClaimStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %q: %w", key, err)
	}
	return ok, nil
}

// Release はキーを削除する。
func (s *RedisClaimStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release %q: %w", key, err)
	}
	return nil
}

var _ ClaimStore = (*RedisClaimStore)(nil)

// RedisConfig はRedis接続設定。
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient はRedisクライアントを生成し、疎通確認する。
// Addrが空、または2秒以内にPINGが通らない場合はnilを返す。
func NewRedisClient(cfg RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redisに接続できないため、インメモリのClaimStoreを使用します",
			slog.String("addr", cfg.Addr),
			slog.String("error", err.Error()),
		)
		client.Close()
		return nil
	}
	return client
}

// New はRedisが利用可能ならRedisClaimStoreを、そうでなければMemoryClaimStoreを返す。
func New(client *redis.Client) ClaimStore {
	if client == nil {
		return NewMemoryClaimStore()
	}
	return NewRedisClaimStore(client)
}
