package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/session"
	"github.com/hitoshi/postboard/internal/user"
)

// UserServiceInterface はAPIハンドラーが必要とするユーザーサービスインターフェース。
type UserServiceInterface interface {
	Get(ctx context.Context, userID string) (*model.User, error)
}

var _ UserServiceInterface = (*user.Service)(nil)

// HealthChecker は依存先の疎通を確認する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// ImageStoreChecker は画像ストアの疎通を確認する。
type ImageStoreChecker interface {
	HealthCheck(ctx context.Context) error
}

// meResponse はGET /api/meのレスポンス。
type meResponse struct {
	ID                  string    `json:"id"`
	Username            string    `json:"username"`
	HasPassword         bool      `json:"has_password"`
	HasProviderIdentity bool      `json:"has_provider_identity"`
	CreatedAt           time.Time `json:"created_at"`
}

// APIHandler はJSON APIのHTTPハンドラー。
type APIHandler struct {
	users  UserServiceInterface
	db     HealthChecker
	images ImageStoreChecker
}

// NewAPIHandler はAPIHandlerを生成する。imagesはnilでもよい。
func NewAPIHandler(users UserServiceInterface, db HealthChecker, images ImageStoreChecker) *APIHandler {
	return &APIHandler{users: users, db: db, images: images}
}

// Me はログインユーザーの情報を返す。
// GET /api/me
func (h *APIHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	u, err := h.users.Get(r.Context(), userID)
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, apiErr)
		return
	}
	if err != nil {
		slog.Error("failed to get current user",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	sess := session.FromContext(r.Context())
	middleware.WriteJSON(w, http.StatusOK, meResponse{
		ID:                  u.ID,
		Username:            u.Username,
		HasPassword:         u.HasPassword(),
		HasProviderIdentity: sess != nil && sess.HasProviderIdentity(),
		CreatedAt:           u.CreatedAt,
	})
}

// Health はDBと画像ストアの疎通を確認する。
// GET /health
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	healthy := true

	if err := h.db.PingContext(ctx); err != nil {
		slog.Error("database health check failed", slog.String("error", err.Error()))
		checks["database"] = "unavailable"
		healthy = false
	}
	if h.images != nil {
		checks["image_store"] = "ok"
		if err := h.images.HealthCheck(ctx); err != nil {
			// 画像ストアの障害はdegradedとして報告し、ステータスは変えない
			slog.Warn("image store health check failed", slog.String("error", err.Error()))
			checks["image_store"] = "degraded"
		}
	}

	status := http.StatusOK
	checks["status"] = "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		checks["status"] = "unavailable"
	}
	middleware.WriteJSON(w, status, checks)
}
