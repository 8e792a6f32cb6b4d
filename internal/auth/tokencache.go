package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/postboard/internal/model"
)

// CachedToken はトークンキャッシュの1エントリ。
type CachedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
	IDToken      string    `json:"id_token,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// TokenCache はアカウント(IDトークンのsub)ごとのトークンを保持する。
// セッションにシリアライズして保存され、リクエストごとに復元される。
// 1リクエスト内でのみ使用するため排他制御は行わない。
type TokenCache struct {
	entries map[string]CachedToken
	changed bool
}

// NewTokenCache は空のTokenCacheを生成する。
func NewTokenCache() *TokenCache {
	return &TokenCache{entries: make(map[string]CachedToken)}
}

// Deserialize はシリアライズ済みの内容でキャッシュを置き換える。
// 変更フラグはリセットされる。
func (c *TokenCache) Deserialize(blob []byte) error {
	entries := make(map[string]CachedToken)
	if err := json.Unmarshal(blob, &entries); err != nil {
		return fmt.Errorf("failed to decode token cache: %w", err)
	}
	// "null"はエラーにならずnilマップになる
	if entries == nil {
		entries = make(map[string]CachedToken)
	}
	c.entries = entries
	c.changed = false
	return nil
}

// Serialize はキャッシュをバイト列にする。
func (c *TokenCache) Serialize() ([]byte, error) {
	b, err := json.Marshal(c.entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token cache: %w", err)
	}
	return b, nil
}

// HasStateChanged は復元以降にキャッシュが変更されたかを返す。
func (c *TokenCache) HasStateChanged() bool {
	return c.changed
}

// Add はアカウントのトークンを追加または置き換える。
func (c *TokenCache) Add(account string, token CachedToken) {
	c.entries[account] = token
	c.changed = true
}

// Lookup はアカウントのトークンを返す。
func (c *TokenCache) Lookup(account string) (CachedToken, bool) {
	t, ok := c.entries[account]
	return t, ok
}

// accounts はキャッシュ済みアカウントをソートして返す。
func (c *TokenCache) accounts() []string {
	accounts := make([]string, 0, len(c.entries))
	for a := range c.entries {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return accounts
}

// LoadTokenCache はセッションに保存されたトークンキャッシュを復元する。
// 保存がない場合と復元できない場合は空のキャッシュを返す。
func LoadTokenCache(sess *model.Session) *TokenCache {
	cache := NewTokenCache()
	if len(sess.Values.TokenCache) == 0 {
		return cache
	}
	if err := cache.Deserialize(sess.Values.TokenCache); err != nil {
		slog.Warn("discarding unreadable token cache",
			slog.String("session_id_prefix", idPrefix(sess.ID)),
			slog.String("error", err.Error()),
		)
		return NewTokenCache()
	}
	return cache
}

// SaveTokenCache はキャッシュが変更されている場合のみセッションへ書き戻す。
func SaveTokenCache(sess *model.Session, cache *TokenCache) error {
	if !cache.HasStateChanged() {
		return nil
	}
	blob, err := cache.Serialize()
	if err != nil {
		return err
	}
	sess.SetTokenCache(blob)
	cache.changed = false
	return nil
}

// idPrefix はログ出力用にセッションIDの先頭のみを返す。
func idPrefix(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
