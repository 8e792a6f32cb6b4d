package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/postboard/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// セッション値はJSONとしてdataカラムに保存する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var (
		sessionID string
		data      []byte
		values    model.SessionValues
		s         model.Session
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, data, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&sessionID, &data, &s.ExpiresAt, &s.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}

	return model.RestoreSession(sessionID, values, s.ExpiresAt, s.CreatedAt), nil
}

// Save はセッションを作成または上書きする。
// user_idはログイン済みの場合のみ設定し、ユーザー削除時のCASCADEに使う。
func (r *PostgresSessionRepo) Save(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session.Values)
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}

	var userID sql.NullString
	if session.Values.UserID != "" {
		userID = sql.NullString{String: session.Values.UserID, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, data, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (id) DO UPDATE
		 SET user_id = EXCLUDED.user_id, data = EXCLUDED.data,
		     expires_at = EXCLUDED.expires_at, updated_at = now()`,
		session.ID, userID, data, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
