package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/postboard/internal/middleware"
)

// multipartOverhead はアップロード上限に加えて許容するフォームフィールドとヘッダー分のバイト数。
const multipartOverhead = 64 << 10

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// セッション
	SessionLoader middleware.SessionLoader
	SessionSaver  SessionSaver

	// サービス
	AuthService AuthServiceInterface
	PostService PostServiceInterface
	UserService UserServiceInterface

	// ヘルスチェック。ImageStoreはnilでもよい
	HealthChecker HealthChecker
	ImageStore    ImageStoreChecker

	// ミドルウェア依存
	Logger           *slog.Logger
	LoginRateLimiter *middleware.LoginRateLimiter
	StatusRecorder   middleware.HTTPStatusRecorder
	MetricsHandler   http.Handler
	CSRF             middleware.CSRFConfig

	// RedirectPath はIdPコールバックのパス。
	RedirectPath string
	// UploadMaxBytes は画像アップロードの上限バイト数。
	UploadMaxBytes int64
	// ImageOrigin は投稿画像の配信元オリジン。CSPのimg-srcに加える。
	ImageOrigin string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Metrics → Recovery → SecurityHeaders → RequestSize
//	  → Session → CSRF → (RequireLogin | RequireLoginAPI | LoginRateLimit)
//
// /health と /metrics はセッションを読み込まない。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	views, err := NewRenderer()
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redirectPath := deps.RedirectPath
	if redirectPath == "" {
		redirectPath = "/getAToken"
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionSaver, views)
	postHandler := NewPostHandler(deps.PostService, deps.AuthService, deps.SessionSaver, views)
	apiHandler := NewAPIHandler(deps.UserService, deps.HealthChecker, deps.ImageStore)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.ImageOrigin != "" {
		r.Use(middleware.NewSecurityHeadersMiddleware(deps.ImageOrigin))
	} else {
		r.Use(middleware.NewSecurityHeadersMiddleware())
	}
	if deps.UploadMaxBytes > 0 {
		r.Use(chimw.RequestSize(deps.UploadMaxBytes + multipartOverhead))
	}

	// --- セッション不要のルート ---
	r.Get("/health", apiHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- セッションを読み込むルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionLoader))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// 認証フロー
		r.Get("/login", authHandler.LoginPage)
		if deps.LoginRateLimiter != nil {
			r.With(deps.LoginRateLimiter.Middleware()).Post("/login", authHandler.Login)
		} else {
			r.Post("/login", authHandler.Login)
		}
		r.Get(redirectPath, authHandler.Callback)
		r.Get("/logout", authHandler.Logout)
		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// 投稿（ログイン必須）
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireLoginMiddleware())

			r.Get("/", postHandler.Home)
			r.Get("/home", postHandler.Home)
			r.Get("/new_post", postHandler.NewPost)
			r.Post("/new_post", postHandler.CreatePost)
			r.Get("/post/{id}", postHandler.EditPost)
			r.Post("/post/{id}", postHandler.UpdatePost)
		})

		// JSON API（ログイン必須）
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireLoginAPIMiddleware())

			r.Get("/api/me", apiHandler.Me)
		})
	})

	return r, nil
}
