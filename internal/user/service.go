// Package user はローカルユーザーの登録と参照を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hitoshi/postboard/internal/auth"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
)

// ErrInvalidUsername はユーザー名の形式が不正であることを表す。
var ErrInvalidUsername = errors.New("username must be 1-64 printable ASCII characters without spaces")

// registration は登録入力の検証ルール。
type registration struct {
	Username string `validate:"required,max=64,printascii"`
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	validate *validator.Validate
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{
		userRepo: userRepo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// Register はパスワード付きのローカルユーザーを作成する。
// 同名ユーザーが存在する場合はmodel.ErrUserConflictを返す。
func (s *Service) Register(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if err := s.validate.Struct(registration{Username: username}); err != nil || strings.Contains(username, " ") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	u := &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, model.ErrUserConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("local user registered",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)
	return u, nil
}

// Get はユーザーを取得する。存在しない場合はUSER_NOT_FOUNDのAPIErrorを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}
