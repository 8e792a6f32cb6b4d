// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/postboard/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はusernameでユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。
	// usernameが既に存在する場合はmodel.ErrUserConflictを返す。
	Create(ctx context.Context, user *model.User) error
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// List は新しい順に最大limit件の投稿を返す。
	List(ctx context.Context, limit int) ([]*model.Post, error)

	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Post, error)

	// Create は投稿を作成し、採番されたIDをpost.IDに設定する。
	Create(ctx context.Context, post *model.Post) error

	// Update は投稿のタイトル・著者・本文・画像を更新する。
	Update(ctx context.Context, post *model.Post) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れまたは存在しない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Save はセッションを作成または上書きする。
	Save(ctx context.Context, session *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error
}
