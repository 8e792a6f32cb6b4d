package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/postboard/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// List は新しい順に最大limit件の投稿を返す。
func (r *PostgresPostRepo) List(ctx context.Context, limit int) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, author, body, image_path, user_id, created_at, updated_at
		 FROM posts
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		p := &model.Post{}
		if err := rows.Scan(&p.ID, &p.Title, &p.Author, &p.Body, &p.ImagePath, &p.UserID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	return posts, nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id int64) (*model.Post, error) {
	p := &model.Post{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, author, body, image_path, user_id, created_at, updated_at
		 FROM posts WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Title, &p.Author, &p.Body, &p.ImagePath, &p.UserID, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by ID: %w", err)
	}

	return p, nil
}

// Create は投稿を作成し、採番されたIDをpost.IDに設定する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO posts (title, author, body, image_path, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		post.Title, post.Author, post.Body, post.ImagePath, post.UserID, post.CreatedAt, post.UpdatedAt,
	).Scan(&post.ID)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// Update は投稿のタイトル・著者・本文・画像を更新する。
func (r *PostgresPostRepo) Update(ctx context.Context, post *model.Post) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts
		 SET title = $2, author = $3, body = $4, image_path = $5, updated_at = $6
		 WHERE id = $1`,
		post.ID, post.Title, post.Author, post.Body, post.ImagePath, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("post not found: %d", post.ID)
	}
	return nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
