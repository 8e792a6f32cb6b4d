package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookieの名前。
	csrfCookieName = "csrf_token"

	// csrfHeaderName はリクエストヘッダーからCSRFトークンを読み取る際のヘッダー名。
	csrfHeaderName = "X-CSRF-Token"

	// CSRFFormField はフォームに埋め込むCSRFトークンのフィールド名。
	CSRFFormField = "csrf_token"

	csrfCookieMaxAge = 86400 // 24時間

	// csrfFormMaxMemory を超えるmultipartの内容は一時ファイルに置かれる。
	csrfFormMaxMemory = 8 << 20
)

var csrfTokenContextKey = contextKey("csrf_token")

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
}

// NewCSRFMiddleware はダブルサブミットCookie方式のCSRF対策ミドルウェアを返す。
// 安全なメソッドはトークンCookieを発行してそのまま通す。
// 状態変更メソッドはCookieの値とフォームフィールドまたはヘッダーの値が一致する場合のみ通す。
// いずれの場合もトークンはCSRFTokenFromContextでテンプレートから参照できる。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				token := ensureCSRFCookie(w, r, config)
				next.ServeHTTP(w, r.WithContext(contextWithCSRFToken(r.Context(), token)))
				return
			}

			cookieToken, err := r.Cookie(csrfCookieName)
			if err != nil || cookieToken.Value == "" {
				rejectCSRF(w, r, "missing cookie token")
				return
			}

			submitted, err := submittedCSRFToken(r)
			if r.MultipartForm != nil {
				defer r.MultipartForm.RemoveAll()
			}
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			if err != nil {
				rejectCSRF(w, r, "unreadable form")
				return
			}
			if submitted == "" {
				rejectCSRF(w, r, "missing submitted token")
				return
			}

			if subtle.ConstantTimeCompare([]byte(cookieToken.Value), []byte(submitted)) != 1 {
				rejectCSRF(w, r, "token mismatch")
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithCSRFToken(r.Context(), cookieToken.Value)))
		})
	}
}

// NewCSRFTokenHandler はCSRFトークン取得エンドポイントのハンドラーを返す。
// GET /api/csrf-token
// 既存のCSRFトークンCookieがある場合はそれを返し、なければ新規生成する。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ensureCSRFCookie(w, r, config)
		if token == "" {
			WriteInternalServerError(w)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"token": token,
		})
	})
}

// CSRFTokenFromContext はリクエストに紐づくCSRFトークンを返す。
// CSRFミドルウェアを通過していない場合は空文字列。
func CSRFTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(csrfTokenContextKey).(string)
	return token
}

func contextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfTokenContextKey, token)
}

func rejectCSRF(w http.ResponseWriter, r *http.Request, reason string) {
	slog.Warn("CSRF validation failed: "+reason,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	http.Error(w, "CSRF token validation failed", http.StatusForbidden)
}

// submittedCSRFToken はヘッダーまたはフォームフィールドで送信されたトークンを返す。
// フォームはmultipartも解析し、後続ハンドラーはr.FormValueやr.FormFileでそのまま参照できる。
func submittedCSRFToken(r *http.Request) (string, error) {
	if token := r.Header.Get(csrfHeaderName); token != "" {
		return token, nil
	}
	if err := r.ParseMultipartForm(csrfFormMaxMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return "", err
	}
	return r.PostFormValue(CSRFFormField), nil
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// ensureCSRFCookie は既存のCSRFトークンを返す。未設定の場合は生成してCookieに設定する。
// 生成に失敗した場合は空文字列を返す。
func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, config CSRFConfig) string {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	token, err := generateCSRFToken()
	if err != nil {
		slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   csrfCookieMaxAge,
		HttpOnly: false, // JavaScriptからヘッダー送信に使う
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

// generateCSRFToken は暗号的に安全なCSRFトークンを生成する。
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
