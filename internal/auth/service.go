// Package auth はローカル認証、OIDC認可コードフロー、ログイン状態の管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
)

// ログイン方式とその結果。メトリクスのラベルに使う。
const (
	MethodLocal    = "local"
	MethodExternal = "external"

	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultDeclined = "declined"
)

// LoginRecorder はログイン関連のメトリクスを記録する。
type LoginRecorder interface {
	RecordLogin(method, result string)
	RecordExchangeLatency(d time.Duration)
	RecordUserProvisioned()
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string, string)          {}
func (nopRecorder) RecordExchangeLatency(time.Duration) {}
func (nopRecorder) RecordUserProvisioned()              {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// Scopes はアプリケーションが要求するスコープ（予約スコープを除く）。
	Scopes []string
	// BaseURL はアプリケーションの外部公開URL。
	BaseURL string
	// RedirectPath はIdPからのコールバックを受けるパス。
	RedirectPath string
	// LogoutAuthority はIdPログアウトエンドポイントのauthority。
	LogoutAuthority string
	// ExchangeTimeout はトークン交換の上限時間。
	ExchangeTimeout time.Duration
}

// RedirectURI は認可リクエストとトークン交換で共通に使うリダイレクトURI。
func (c ServiceConfig) RedirectURI() string {
	return strings.TrimRight(c.BaseURL, "/") + c.RedirectPath
}

// LogoutURL はIdPのログアウトURLを返す。
func (c ServiceConfig) LogoutURL() string {
	return strings.TrimRight(c.LogoutAuthority, "/") + logoutPath +
		"?post_logout_redirect_uri=" + url.QueryEscape(strings.TrimRight(c.BaseURL, "/")+"/login")
}

// CallbackOutcome はコールバック処理の結果種別。
type CallbackOutcome int

const (
	// OutcomeRejected はstate不一致。何も変更せずホームへ戻す。
	OutcomeRejected CallbackOutcome = iota
	// OutcomeProviderDeclined はIdPがerrorを返した。
	OutcomeProviderDeclined
	// OutcomeExchangeFailed はトークン交換またはユーザー反映に失敗した。
	OutcomeExchangeFailed
	// OutcomeAuthenticated はログインが成立した。
	OutcomeAuthenticated
	// OutcomeMalformed はcodeもerrorも無い。
	OutcomeMalformed
)

// String はログ出力用の名前を返す。
func (o CallbackOutcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeProviderDeclined:
		return "provider_declined"
	case OutcomeExchangeFailed:
		return "exchange_failed"
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// CallbackResult はHandleCallbackの結果。
type CallbackResult struct {
	Outcome CallbackOutcome
	// User はOutcomeAuthenticatedの場合のログインユーザー。
	User *model.User
	// ErrorPayload はエラービューに表示する内容。
	// OutcomeProviderDeclinedとOutcomeExchangeFailedの場合のみ設定される。
	ErrorPayload map[string]string
	Err          error
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	credentials *CredentialStore
	users       repository.UserRepository
	clients     ClientFactory
	recorder    LoginRecorder
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(
	users repository.UserRepository,
	clients ClientFactory,
	config ServiceConfig,
	recorder LoginRecorder,
) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if config.ExchangeTimeout <= 0 {
		config.ExchangeTimeout = 10 * time.Second
	}
	return &Service{
		credentials: NewCredentialStore(users),
		users:       users,
		clients:     clients,
		recorder:    recorder,
		config:      config,
		now:         time.Now,
	}
}

// Config は認証サービスの設定を返す。
func (s *Service) Config() ServiceConfig {
	return s.config
}

// BuildAuthURL は認可リクエストURLを生成する。
// stateが空の場合は新しいstateを生成し、生成したstateも返す。
func (s *Service) BuildAuthURL(scopes []string, state string) (string, string, error) {
	if state == "" {
		var err error
		state, err = generateState()
		if err != nil {
			return "", "", fmt.Errorf("failed to generate state: %w", err)
		}
	}
	handle := s.clients.Build(nil, "")
	return handle.AuthCodeURL(scopes, state, s.config.RedirectURI()), state, nil
}

// BeginExternalLogin は認可リクエストURLを生成し、stateをセッションに保存する。
// 呼び出し側はレスポンス前にセッションを保存すること。
func (s *Service) BeginExternalLogin(sess *model.Session) (string, error) {
	authURL, state, err := s.BuildAuthURL(s.config.Scopes, "")
	if err != nil {
		return "", err
	}
	sess.SetState(state)
	return authURL, nil
}

// HandleCallback はIdPからのコールバックを処理する。
// stateが一致した時点でセッションのstateは消費される。
func (s *Service) HandleCallback(ctx context.Context, sess *model.Session, query url.Values) *CallbackResult {
	stored := sess.Values.State
	received := query.Get("state")
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(received)) != 1 {
		slog.Debug("callback state mismatch", slog.Bool("has_stored_state", stored != ""))
		return &CallbackResult{Outcome: OutcomeRejected, Err: ErrAntiForgeryMismatch}
	}

	if query.Has("error") {
		sess.ConsumeState()
		payload := callbackPayload(query)
		slog.Error("identity provider returned an error",
			slog.String("error", payload["error"]),
			slog.String("error_description", payload["error_description"]),
		)
		s.recorder.RecordLogin(MethodExternal, ResultDeclined)
		return &CallbackResult{Outcome: OutcomeProviderDeclined, ErrorPayload: payload, Err: ErrProviderDeclined}
	}

	code := query.Get("code")
	if code == "" {
		slog.Debug("callback carries neither code nor error")
		return &CallbackResult{Outcome: OutcomeMalformed, Err: ErrMalformedCallback}
	}
	sess.ConsumeState()

	user, err := s.completeExternalLogin(ctx, sess, code)
	if err != nil {
		var exErr *ExchangeError
		if !errors.As(err, &exErr) {
			exErr = &ExchangeError{Code: "request_failed", Description: err.Error(), Err: err}
		}
		slog.Error("external login failed",
			slog.String("error", exErr.Code),
			slog.String("error_description", exErr.Description),
		)
		s.recorder.RecordLogin(MethodExternal, ResultFailure)
		return &CallbackResult{Outcome: OutcomeExchangeFailed, ErrorPayload: exErr.Payload(), Err: exErr}
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("method", MethodExternal),
	)
	s.recorder.RecordLogin(MethodExternal, ResultSuccess)
	return &CallbackResult{Outcome: OutcomeAuthenticated, User: user}
}

// completeExternalLogin はトークン交換、ユーザー反映、ログイン状態の設定を行う。
func (s *Service) completeExternalLogin(ctx context.Context, sess *model.Session, code string) (*model.User, error) {
	cache := LoadTokenCache(sess)
	handle := s.clients.Build(cache, "")

	exCtx, cancel := context.WithTimeout(ctx, s.config.ExchangeTimeout)
	defer cancel()

	start := time.Now()
	result, err := handle.ExchangeCode(exCtx, code, s.config.Scopes, s.config.RedirectURI())
	s.recorder.RecordExchangeLatency(time.Since(start))
	if err != nil {
		return nil, err
	}

	username, _ := result.Claims["preferred_username"].(string)
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, &ExchangeError{
			Code:        "missing_claim",
			Description: "id_token has no preferred_username claim",
		}
	}

	user, err := s.reconcileUser(ctx, username)
	if err != nil {
		return nil, &ExchangeError{
			Code:        "user_store_unavailable",
			Description: "the signed-in user could not be recorded, please sign in again",
			Err:         err,
		}
	}

	sess.SetUserClaims(result.Claims)
	s.LoginExternal(sess, user)

	if err := SaveTokenCache(sess, cache); err != nil {
		slog.Warn("failed to store token cache", slog.String("error", err.Error()))
	}

	return user, nil
}

// reconcileUser はusernameのユーザーを取得し、存在しなければ作成する。
// 同時作成による一意制約違反は既存ユーザーの再取得で解決する。
func (s *Service) reconcileUser(ctx context.Context, username string) (*model.User, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	now := s.now()
	user = &model.User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.users.Create(ctx, user)
	if errors.Is(err, model.ErrUserConflict) {
		existing, err := s.users.FindByUsername(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("failed to find user after conflict: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("user %q not found after conflict", username)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created", slog.String("user_id", user.ID))
	s.recorder.RecordUserProvisioned()
	return user, nil
}

// LoginLocal はユーザー名とパスワードでログインする。
// 照合に失敗した場合はErrCredentialInvalidを返す。
func (s *Service) LoginLocal(ctx context.Context, sess *model.Session, username, password string, remember bool) (*model.User, error) {
	user, err := s.credentials.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !s.credentials.Verify(user, password) {
		slog.Warn("local login failed")
		s.recorder.RecordLogin(MethodLocal, ResultFailure)
		return nil, ErrCredentialInvalid
	}

	sess.Authenticate(user.ID, remember)
	sess.RenewID()

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("method", MethodLocal),
	)
	s.recorder.RecordLogin(MethodLocal, ResultSuccess)
	return user, nil
}

// LoginExternal は外部IdPで認証済みのユーザーをログイン状態にする。
func (s *Service) LoginExternal(sess *model.Session, user *model.User) {
	sess.Authenticate(user.ID, false)
	sess.RenewID()
}

// Logout はログイン状態を解除し、遷移先URLを返す。
// 外部IdPのクレームを保持している場合はセッションの値を全て消去し、IdPのログアウトURLを返す。
func (s *Service) Logout(sess *model.Session) string {
	userID := sess.Values.UserID
	if !sess.HasProviderIdentity() {
		sess.ClearAuthentication()
		slog.Info("user logged out",
			slog.String("user_id", userID),
			slog.String("method", MethodLocal),
		)
		return "/login"
	}
	sess.Clear()
	slog.Info("user logged out",
		slog.String("user_id", userID),
		slog.String("method", MethodExternal),
	)
	return s.config.LogoutURL()
}

// CurrentUser はセッションのログインユーザーを返す。未ログインの場合はnil。
func (s *Service) CurrentUser(ctx context.Context, sess *model.Session) (*model.User, error) {
	if !sess.IsAuthenticated() {
		return nil, nil
	}
	user, err := s.users.FindByID(ctx, sess.Values.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// callbackPayload はコールバックのクエリからstateを除いた値を返す。
func callbackPayload(query url.Values) map[string]string {
	payload := make(map[string]string, len(query))
	for k := range query {
		if k == "state" || k == "code" {
			continue
		}
		payload[k] = query.Get(k)
	}
	return payload
}

// generateState は128bitのanti-forgery値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
