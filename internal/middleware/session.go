// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// SessionLoader はリクエストからセッションを読み込むインターフェース。
// session.Managerが実装する。
type SessionLoader interface {
	Load(r *http.Request) (*model.Session, error)
}

// NewSessionMiddleware はCookieからセッションを読み込み、リクエストコンテキストに注入するミドルウェアを返す。
// 未ログインのリクエストも通過させる。ログイン必須の判定はNewRequireLoginMiddlewareで行う。
func NewSessionMiddleware(loader SessionLoader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := loader.Load(r)
			if err != nil {
				slog.Error("failed to load session",
					slog.String("error", err.Error()),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			ctx := session.NewContext(r.Context(), sess)
			if sess.IsAuthenticated() {
				ctx = ContextWithUserID(ctx, sess.Values.UserID)
				annotateUserID(ctx, sess.Values.UserID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequireLoginMiddleware は未ログインのリクエストをログイン画面へリダイレクトするミドルウェアを返す。
// 元のパスはnextクエリで引き継ぐ。
func NewRequireLoginMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())
			if sess == nil || !sess.IsAuthenticated() {
				http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRequireLoginAPIMiddleware は未ログインのAPIリクエストに401を返すミドルウェアを返す。
func NewRequireLoginAPIMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())
			if sess == nil || !sess.IsAuthenticated() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SafeRedirectTarget はログイン後の遷移先として安全なローカルパスのみを返す。
// 外部URLやプロトコル相対URLはfallbackに置き換える。
func SafeRedirectTarget(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return next
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// ログイン済みセッションでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
