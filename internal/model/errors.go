// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrUserConflict はusernameの一意制約違反を表す。
// 同一ユーザーの同時初回ログインで発生し得るため、呼び出し側は再取得で回復する。
var ErrUserConflict = errors.New("username already exists")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, post, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeUserNotFound  = "USER_NOT_FOUND"
	ErrCodePostNotFound  = "POST_NOT_FOUND"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInvalidImage  = "INVALID_IMAGE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Sign-in is required.",
		Category: "auth",
		Action:   "Please sign in and try again.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Please sign in again.",
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID int64) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("Post not found: %d", postID),
		Category: "post",
		Action:   "Check the post ID.",
	}
}

// NewRateLimitedError はログイン試行回数超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many sign-in attempts.",
		Category: "auth",
		Action:   "Please wait a moment and try again.",
	}
}

// NewInvalidImageError は画像アップロードが受け付けられない場合のエラーを生成する。
func NewInvalidImageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImage,
		Message:  fmt.Sprintf("Image rejected: %s", reason),
		Category: "validation",
		Action:   "Choose a JPEG, PNG, GIF or WebP image.",
	}
}
