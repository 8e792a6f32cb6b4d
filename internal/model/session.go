package model

import "time"

// SessionValues はセッションに保持する値の集合。
// JSONでシリアライズされセッションストアに保存される。
type SessionValues struct {
	// State はOAuth認可リクエストに紐付くanti-forgery値。1回のログイン試行でのみ有効。
	State string `json:"state,omitempty"`
	// User は外部IdPログイン成功後に保存するIDトークンのクレーム。
	User map[string]any `json:"user,omitempty"`
	// TokenCache はシリアライズ済みトークンキャッシュ。中身はauthパッケージのみが解釈する。
	TokenCache []byte `json:"token_cache,omitempty"`
	// UserID はログイン済みを示すマーカー。
	UserID string `json:"user_id,omitempty"`
	// Remember はブラウザ再起動後もセッションを維持するか。
	Remember bool `json:"remember,omitempty"`
	// Flashes は次回表示時に一度だけ出すメッセージ。
	Flashes []string `json:"flashes,omitempty"`
}

// Session はクライアントごとのサーバーサイドセッションを表す。
// リクエスト開始時にロードされ、ハンドラーに引数として渡される。
type Session struct {
	ID        string
	Values    SessionValues
	ExpiresAt time.Time
	CreatedAt time.Time

	isNew    bool
	modified bool
	renew    bool
}

// NewSession は未保存の空セッションを生成する。
func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		isNew:     true,
	}
}

// RestoreSession はストアから読み出した値でセッションを復元する。
func RestoreSession(id string, values SessionValues, expiresAt, createdAt time.Time) *Session {
	return &Session{
		ID:        id,
		Values:    values,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}
}

// IsNew はストアに未保存のセッションかを返す。
func (s *Session) IsNew() bool {
	return s.isNew
}

// MarkPersisted は保存完了後に呼び、変更フラグをリセットする。
func (s *Session) MarkPersisted() {
	s.isNew = false
	s.modified = false
	s.renew = false
}

// Modified はロード以降に値が変更されたかを返す。
func (s *Session) Modified() bool {
	return s.modified
}

// NeedsRenewal は次回保存時にセッションIDの再発行が必要かを返す。
func (s *Session) NeedsRenewal() bool {
	return s.renew
}

// RenewID は次回保存時のセッションID再発行を要求する。
// ログイン時のセッション固定攻撃対策に使用する。
func (s *Session) RenewID() {
	s.renew = true
	s.modified = true
}

// SetState はanti-forgery stateを保存する。
func (s *Session) SetState(state string) {
	s.Values.State = state
	s.modified = true
}

// ConsumeState は保存済みstateを削除する。
func (s *Session) ConsumeState() {
	if s.Values.State == "" {
		return
	}
	s.Values.State = ""
	s.modified = true
}

// SetUserClaims は外部IdPのクレームを保存する。
func (s *Session) SetUserClaims(claims map[string]any) {
	s.Values.User = claims
	s.modified = true
}

// HasProviderIdentity は外部IdPのクレームを保持しているかを返す。
func (s *Session) HasProviderIdentity() bool {
	return len(s.Values.User) > 0
}

// SetTokenCache はシリアライズ済みトークンキャッシュを上書きする。
func (s *Session) SetTokenCache(blob []byte) {
	s.Values.TokenCache = blob
	s.modified = true
}

// Authenticate はログイン済みマーカーを設定する。
func (s *Session) Authenticate(userID string, remember bool) {
	s.Values.UserID = userID
	s.Values.Remember = remember
	s.modified = true
}

// IsAuthenticated はログイン済みかを返す。
func (s *Session) IsAuthenticated() bool {
	return s.Values.UserID != ""
}

// ClearAuthentication はログイン済みマーカーのみを削除する。
func (s *Session) ClearAuthentication() {
	s.Values.UserID = ""
	s.Values.Remember = false
	s.modified = true
}

// Clear はセッションの全ての値を削除する。
func (s *Session) Clear() {
	s.Values = SessionValues{}
	s.modified = true
}

// AddFlash はフラッシュメッセージを追加する。
func (s *Session) AddFlash(msg string) {
	s.Values.Flashes = append(s.Values.Flashes, msg)
	s.modified = true
}

// PopFlashes はフラッシュメッセージを取り出して削除する。
func (s *Session) PopFlashes() []string {
	if len(s.Values.Flashes) == 0 {
		return nil
	}
	flashes := s.Values.Flashes
	s.Values.Flashes = nil
	s.modified = true
	return flashes
}
