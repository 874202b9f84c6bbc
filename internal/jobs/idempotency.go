package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// requestKeyPrefix はリクエストトークンを保存するRedisキーの接頭辞。
const requestKeyPrefix = "podcastadmin:fetch_request:"

// RequestGuard は同一リクエストによるジョブの二重投入を防ぐ。
type RequestGuard interface {
	// Claim はキーを確保する。既に確保済みの場合はfalseを返す。
	Claim(ctx context.Context, key string) (bool, error)
	// Release は確保したキーを解放する。
	Release(ctx context.Context, key string) error
}

// RedisRequestGuard はRedisのSETNXを使用したRequestGuard実装。
// キーはTTL経過後に自動的に失効する。
type RedisRequestGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRequestGuard はRedisRequestGuardを生成する。
func NewRedisRequestGuard(client *redis.Client, ttl time.Duration) *RedisRequestGuard {
	return &RedisRequestGuard{client: client, ttl: ttl}
}

// NewRedisClient はアドレス・パスワード・DB番号からRedisクライアントを生成する。
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Claim はキーを確保する。既に確保済みの場合はfalseを返す。
func (g *RedisRequestGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, requestKeyPrefix+key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Release は確保したキーを解放する。
func (g *RedisRequestGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, requestKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RequestGuard = (*RedisRequestGuard)(nil)
