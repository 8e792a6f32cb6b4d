// Package session はCookieとセッションストアによるサーバーサイドセッションを提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
)

// DefaultCookieName はセッションIDを保持するCookieの名前。
const DefaultCookieName = "session_id"

// Config はセッション管理の設定。
type Config struct {
	CookieName   string
	CookieDomain string
	CookieSecure bool
	// MaxAge はRememberなしのセッションの有効期間。Cookieはブラウザ終了で破棄される。
	MaxAge time.Duration
	// RememberMaxAge はRememberありのセッションとCookieの有効期間。
	RememberMaxAge time.Duration
}

// Manager はリクエストごとのセッションの読み込みと保存を行う。
type Manager struct {
	store  repository.SessionRepository
	config Config
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(store repository.SessionRepository, config Config) *Manager {
	if config.CookieName == "" {
		config.CookieName = DefaultCookieName
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.RememberMaxAge <= 0 {
		config.RememberMaxAge = 365 * 24 * time.Hour
	}
	return &Manager{store: store, config: config, now: time.Now}
}

// Load はリクエストのCookieからセッションを読み込む。
// Cookieが無い場合や期限切れの場合は未保存の新しいセッションを返す。
func (m *Manager) Load(r *http.Request) (*model.Session, error) {
	if cookie, err := r.Cookie(m.config.CookieName); err == nil && cookie.Value != "" {
		sess, err := m.store.FindByID(r.Context(), cookie.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if sess != nil {
			return sess, nil
		}
	}

	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	sess := model.NewSession(id)
	sess.ExpiresAt = m.now().Add(m.config.MaxAge)
	return sess, nil
}

// Save は変更されたセッションをストアに保存し、Cookieを設定する。
// 変更のないセッションは書き込まない。
// レスポンスボディを書き込む前に呼び出すこと。
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, sess *model.Session) error {
	if !sess.Modified() {
		return nil
	}

	if sess.NeedsRenewal() {
		oldID := sess.ID
		newID, err := generateSessionID()
		if err != nil {
			return fmt.Errorf("failed to generate session ID: %w", err)
		}
		if !sess.IsNew() {
			if err := m.store.DeleteByID(ctx, oldID); err != nil {
				return fmt.Errorf("failed to delete previous session: %w", err)
			}
		}
		sess.ID = newID
		slog.Debug("session ID renewed")
	}

	maxAge := m.config.MaxAge
	if sess.Values.Remember {
		maxAge = m.config.RememberMaxAge
	}
	sess.ExpiresAt = m.now().Add(maxAge)

	if err := m.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	sess.MarkPersisted()

	cookie := &http.Cookie{
		Name:     m.config.CookieName,
		Value:    sess.ID,
		Path:     "/",
		Domain:   m.config.CookieDomain,
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if sess.Values.Remember {
		cookie.MaxAge = int(maxAge.Seconds())
	}
	http.SetCookie(w, cookie)

	return nil
}

// generateSessionID は256bitのセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
