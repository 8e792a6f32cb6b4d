package model

import "time"

// Post は共有フィードに表示される投稿を表す。
type Post struct {
	ID        int64
	Title     string
	Author    string
	Body      string
	ImagePath string // 画像ストア上のオブジェクト名。画像なしは空文字列
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
