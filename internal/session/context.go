package session

import (
	"context"

	"github.com/hitoshi/postboard/internal/model"
)

type contextKey struct{}

// NewContext はセッションを格納したコンテキストを返す。
func NewContext(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext はコンテキストのセッションを返す。
// セッションミドルウェアを通過していない場合はnil。
func FromContext(ctx context.Context) *model.Session {
	sess, _ := ctx.Value(contextKey{}).(*model.Session)
	return sess
}
