// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 外部IdPのみでログインするユーザーはPasswordHashを持たない。
type User struct {
	ID           string
	Username     string
	PasswordHash string // 空文字列はパスワード未設定（外部IdP専用アカウント）
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はローカル認証用のパスワードハッシュを保持しているかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}
