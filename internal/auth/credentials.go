package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
)

// MinPasswordLength はローカルユーザーのパスワード最小長。
const MinPasswordLength = 8

// ErrPasswordTooShort はパスワードがMinPasswordLength未満であることを表す。
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// dummyHash はユーザー不在時にも比較コストを揃えるためのハッシュ。
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("postboard-dummy-password"), bcrypt.DefaultCost)
	return h
})

// CredentialStore はローカル認証用のユーザー検索とパスワード照合を提供する。
type CredentialStore struct {
	users repository.UserRepository
}

// NewCredentialStore はCredentialStoreを生成する。
func NewCredentialStore(users repository.UserRepository) *CredentialStore {
	return &CredentialStore{users: users}
}

// FindByUsername はusernameでユーザーを検索する。見つからない場合はnilを返す。
func (c *CredentialStore) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return c.users.FindByUsername(ctx, username)
}

// Verify は平文パスワードがユーザーのハッシュと一致するかを返す。
// パスワード未設定のユーザーは常にfalse。
func (c *CredentialStore) Verify(user *model.User, plaintext string) bool {
	if user == nil || !user.HasPassword() {
		bcrypt.CompareHashAndPassword(dummyHash(), []byte(plaintext))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(plaintext)) == nil
}

// HashPassword はパスワードをbcryptでハッシュ化する。
func HashPassword(plaintext string) (string, error) {
	if len(plaintext) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("password is too long: %w", err)
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}
