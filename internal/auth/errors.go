package auth

import (
	"errors"
	"fmt"
)

// 認証コールバックおよびログイン処理で発生するエラー。
var (
	// ErrAntiForgeryMismatch はコールバックのstateがセッションのstateと一致しないことを表す。
	ErrAntiForgeryMismatch = errors.New("anti-forgery state mismatch")
	// ErrProviderDeclined はIdPがコールバックでerrorを返したことを表す。
	ErrProviderDeclined = errors.New("identity provider declined the authorization request")
	// ErrExchangeFailed は認可コードのトークン交換が失敗したことを表す。
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	// ErrCredentialInvalid はユーザー名またはパスワードが誤っていることを表す。
	// どちらが誤っているかは区別しない。
	ErrCredentialInvalid = errors.New("invalid username or password")
	// ErrMalformedCallback はコールバックにcodeもerrorも含まれないことを表す。
	ErrMalformedCallback = errors.New("callback carries neither code nor error")
)

// ExchangeError はトークン交換時のエラーペイロードを保持する。
// errors.Is(err, ErrExchangeFailed) はtrueを返す。
type ExchangeError struct {
	Code        string
	Description string
	Err         error
}

// Error はerrorインターフェースを実装する。
func (e *ExchangeError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("token exchange failed: %s", e.Code)
	}
	return fmt.Sprintf("token exchange failed: %s: %s", e.Code, e.Description)
}

// Is はErrExchangeFailedとの比較を可能にする。
func (e *ExchangeError) Is(target error) bool {
	return target == ErrExchangeFailed
}

// Unwrap は元のエラーを返す。
func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// Payload はエラービューに渡すキーと値の組を返す。
func (e *ExchangeError) Payload() map[string]string {
	p := map[string]string{"error": e.Code}
	if e.Description != "" {
		p["error_description"] = e.Description
	}
	return p
}
