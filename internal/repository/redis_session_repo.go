package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hitoshi/registre/internal/model"
)

const redisSessionKeyPrefix = "registre:session:"

// RedisSessionRepo はRedisにGrantを保持するセッションリポジトリ。
// 複数レプリカ間でセッションを共有する場合に使用する。
// 有効期限はRedisのTTLで管理する。
type RedisSessionRepo struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client redis.UniversalClient) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, now: time.Now}
}

// NewRedisClient はREDIS_URL形式（redis://host:port/db）からクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Save はGrantをJSONで保存し、ExpiresAtまでのTTLを設定する。
func (r *RedisSessionRepo) Save(ctx context.Context, grant *model.Grant) error {
	ttl := grant.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("session already expired: %s", grant.SessionID)
	}

	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := r.client.Set(ctx, redisSessionKey(grant.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// FindByID は指定IDのGrantを取得する。キーが存在しない（TTL切れ含む）場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Grant, error) {
	data, err := r.client.Get(ctx, redisSessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var grant model.Grant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	if !r.now().Before(grant.ExpiresAt) {
		return nil, nil
	}
	return &grant, nil
}

// DeleteByID は指定IDのGrantを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisSessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close はRedis接続を閉じる。
func (r *RedisSessionRepo) Close() error {
	return r.client.Close()
}

func redisSessionKey(id string) string {
	return redisSessionKeyPrefix + id
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
