package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/postboard/internal/model"
)

// redisSessionKeyPrefix はセッションキーの接頭辞。
const redisSessionKeyPrefix = "postboard:session:"

// redisSessionRecord はRedisに保存するセッションの表現。
type redisSessionRecord struct {
	Values    model.SessionValues `json:"values"`
	ExpiresAt time.Time           `json:"expires_at"`
	CreatedAt time.Time           `json:"created_at"`
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// 有効期限はキーのTTLで管理するため、定期的な削除ジョブは不要。
type RedisSessionRepo struct {
	client *redis.Client
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client *redis.Client) *RedisSessionRepo {
	return &RedisSessionRepo{client: client}
}

// NewRedisClient はredis://形式のURLからクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// FindByID は指定IDのセッションを取得する。存在しない場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	raw, err := r.client.Get(ctx, redisSessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var rec redisSessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}
	if !rec.ExpiresAt.After(time.Now()) {
		return nil, nil
	}

	return model.RestoreSession(id, rec.Values, rec.ExpiresAt, rec.CreatedAt), nil
}

// Save はセッションを作成または上書きする。TTLはExpiresAtまでの残り時間。
func (r *RedisSessionRepo) Save(ctx context.Context, session *model.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return r.DeleteByID(ctx, session.ID)
	}

	data, err := json.Marshal(redisSessionRecord{
		Values:    session.Values,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}

	if err := r.client.Set(ctx, redisSessionKeyPrefix+session.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisSessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
