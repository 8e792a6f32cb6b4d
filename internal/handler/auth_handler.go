// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/postboard/internal/auth"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/session"
)

const (
	flashInvalidCredentials = "Invalid username or password"
	flashMissingCredentials = "Username and password are required"

	homePath = "/home"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginExternalLogin(sess *model.Session) (string, error)
	HandleCallback(ctx context.Context, sess *model.Session, query url.Values) *auth.CallbackResult
	LoginLocal(ctx context.Context, sess *model.Session, username, password string, remember bool) (*model.User, error)
	Logout(sess *model.Session) string
	CurrentUser(ctx context.Context, sess *model.Session) (*model.User, error)
}

var _ AuthServiceInterface = (*auth.Service)(nil)

// SessionSaver はセッションを保存するインターフェース。session.Managerが実装する。
type SessionSaver interface {
	Save(ctx context.Context, w http.ResponseWriter, sess *model.Session) error
}

var _ SessionSaver = (*session.Manager)(nil)

// loginForm はローカルログインフォームの入力値。
type loginForm struct {
	Username   string `validate:"required,max=64"`
	Password   string `validate:"required"`
	RememberMe bool
	Next       string
}

// AuthHandler はログイン、IdPコールバック、ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionSaver
	views    *Renderer
	validate *validator.Validate
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions SessionSaver, views *Renderer) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		views:    views,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoginPage はログイン画面を表示する。
// GET /login
// 表示のたびに新しいstateを発行し、外部IdPへのリンクに埋め込む。
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess.IsAuthenticated() {
		slog.Info("already authenticated", slog.String("user_id", sess.Values.UserID))
		http.Redirect(w, r, homePath, http.StatusFound)
		return
	}

	authURL, err := h.service.BeginExternalLogin(sess)
	if err != nil {
		slog.Error("failed to build authorization URL", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	data := newPageData(r, "Sign in", nil)
	data.AuthURL = authURL
	data.Next = middleware.SafeRedirectTarget(r.URL.Query().Get("next"), "")
	data.Flashes = sess.PopFlashes()

	if !h.saveSession(w, r, sess) {
		return
	}
	h.views.Render(w, http.StatusOK, pageLogin, data)
}

// Login はローカルのユーザー名とパスワードでログインする。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess.IsAuthenticated() {
		slog.Info("already authenticated", slog.String("user_id", sess.Values.UserID))
		http.Redirect(w, r, homePath, http.StatusFound)
		return
	}

	form := loginForm{
		Username:   r.PostFormValue("username"),
		Password:   r.PostFormValue("password"),
		RememberMe: r.PostFormValue("remember_me") != "",
		Next:       r.PostFormValue("next"),
	}
	if err := h.validate.Struct(form); err != nil {
		h.redirectToLogin(w, r, sess, flashMissingCredentials, form.Next)
		return
	}

	_, err := h.service.LoginLocal(r.Context(), sess, form.Username, form.Password, form.RememberMe)
	if errors.Is(err, auth.ErrCredentialInvalid) {
		h.redirectToLogin(w, r, sess, flashInvalidCredentials, form.Next)
		return
	}
	if err != nil {
		slog.Error("local login failed", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if !h.saveSession(w, r, sess) {
		return
	}
	http.Redirect(w, r, middleware.SafeRedirectTarget(form.Next, homePath), http.StatusFound)
}

// Callback はIdPからのリダイレクトを処理する。
// GET {OIDC_REDIRECT_PATH}?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	result := h.service.HandleCallback(r.Context(), sess, r.URL.Query())

	if !h.saveSession(w, r, sess) {
		return
	}

	switch result.Outcome {
	case auth.OutcomeProviderDeclined:
		h.renderAuthError(w, r, http.StatusBadRequest, result.ErrorPayload)
	case auth.OutcomeExchangeFailed:
		h.renderAuthError(w, r, http.StatusBadGateway, result.ErrorPayload)
	default:
		// OutcomeAuthenticated、OutcomeRejected、OutcomeMalformedはいずれもホームへ戻す
		http.Redirect(w, r, homePath, http.StatusFound)
	}
}

// Logout はログイン状態を解除する。
// GET /logout
// 外部IdPでログインしていた場合はIdPのログアウトエンドポイントへリダイレクトする。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	target := h.service.Logout(sess)

	if !h.saveSession(w, r, sess) {
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *AuthHandler) renderAuthError(w http.ResponseWriter, r *http.Request, status int, payload map[string]string) {
	data := newPageData(r, "Sign-in failed", nil)
	data.ErrorPayload = payload
	h.views.Render(w, status, pageAuthError, data)
}

func (h *AuthHandler) redirectToLogin(w http.ResponseWriter, r *http.Request, sess *model.Session, flash, next string) {
	sess.AddFlash(flash)
	if !h.saveSession(w, r, sess) {
		return
	}
	target := "/login"
	if next = middleware.SafeRedirectTarget(next, ""); next != "" {
		target += "?next=" + url.QueryEscape(next)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// saveSession はセッションを保存する。失敗した場合は500を書き込みfalseを返す。
func (h *AuthHandler) saveSession(w http.ResponseWriter, r *http.Request, sess *model.Session) bool {
	if err := h.sessions.Save(r.Context(), w, sess); err != nil {
		slog.Error("failed to save session", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return false
	}
	return true
}
