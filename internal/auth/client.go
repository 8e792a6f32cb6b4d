package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// reservedScopes は常に要求するOIDCスコープ。
// アプリケーションが設定するスコープには含めない。
var reservedScopes = []string{oidc.ScopeOpenID, "profile", oidc.ScopeOfflineAccess}

// 認可エンドポイント等のパスはMicrosoft identity platform形式。
const (
	authorizePath = "/oauth2/v2.0/authorize"
	tokenPath     = "/oauth2/v2.0/token"
	keysPath      = "/discovery/v2.0/keys"
	logoutPath    = "/oauth2/v2.0/logout"
)

// ExchangeResult はトークン交換に成功した結果。
type ExchangeResult struct {
	// Account はIDトークンのsub。トークンキャッシュのキーになる。
	Account string
	// Claims は検証済みIDトークンのクレーム。
	Claims map[string]any
}

// ClientHandle はIdPとの認可コードフローを実行するクライアント。
type ClientHandle interface {
	// AuthCodeURL は認可リクエストURLを生成する。
	AuthCodeURL(scopes []string, state, redirectURI string) string
	// ExchangeCode は認可コードをトークンに交換する。
	// 失敗時は*ExchangeErrorを返す。
	ExchangeCode(ctx context.Context, code string, scopes []string, redirectURI string) (*ExchangeResult, error)
}

// ClientFactory は指定のトークンキャッシュに紐付くClientHandleを生成する。
// authorityが空の場合は設定済みのデフォルトを使う。
type ClientFactory interface {
	Build(cache *TokenCache, authority string) ClientHandle
}

// OIDCClientConfig はOIDCClientFactoryの設定。
type OIDCClientConfig struct {
	ClientID     string
	ClientSecret string
	Authority    string
	// Issuer はIDトークンのissと照合する値。空の場合はAuthority+"/v2.0"。
	Issuer          string
	SkipIssuerCheck bool
	HTTPClient      *http.Client
}

// OIDCClientFactory はgolang.org/x/oauth2とgo-oidcによるClientFactory実装。
// JWKSの鍵セットはauthorityごとにファクトリ内で共有する。
type OIDCClientFactory struct {
	config     OIDCClientConfig
	httpClient *http.Client

	mu      sync.Mutex
	keySets map[string]*oidc.RemoteKeySet
}

// NewOIDCClientFactory はOIDCClientFactoryを生成する。
func NewOIDCClientFactory(config OIDCClientConfig) *OIDCClientFactory {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	config.Authority = strings.TrimRight(config.Authority, "/")
	return &OIDCClientFactory{
		config:     config,
		httpClient: httpClient,
		keySets:    make(map[string]*oidc.RemoteKeySet),
	}
}

// Build はClientHandleを生成する。ネットワークアクセスは行わない。
func (f *OIDCClientFactory) Build(cache *TokenCache, authority string) ClientHandle {
	authority = strings.TrimRight(authority, "/")
	if authority == "" {
		authority = f.config.Authority
	}

	issuer := authority + "/v2.0"
	if f.config.Issuer != "" && authority == f.config.Authority {
		issuer = f.config.Issuer
	}

	if cache == nil {
		cache = NewTokenCache()
	}

	return &oidcClient{
		base: oauth2.Config{
			ClientID:     f.config.ClientID,
			ClientSecret: f.config.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authority + authorizePath,
				TokenURL:  authority + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		verifier: oidc.NewVerifier(issuer, f.keySet(authority), &oidc.Config{
			ClientID:        f.config.ClientID,
			SkipIssuerCheck: f.config.SkipIssuerCheck,
		}),
		cache:      cache,
		httpClient: f.httpClient,
	}
}

// keySet はauthorityのJWKS鍵セットを返す。鍵の取得は初回検証時まで遅延する。
func (f *OIDCClientFactory) keySet(authority string) *oidc.RemoteKeySet {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ks, ok := f.keySets[authority]; ok {
		return ks
	}
	ctx := oidc.ClientContext(context.Background(), f.httpClient)
	ks := oidc.NewRemoteKeySet(ctx, authority+keysPath)
	f.keySets[authority] = ks
	return ks
}

// oidcClient はClientHandleの実装。
type oidcClient struct {
	base       oauth2.Config
	verifier   *oidc.IDTokenVerifier
	cache      *TokenCache
	httpClient *http.Client
}

func (c *oidcClient) configFor(scopes []string, redirectURI string) *oauth2.Config {
	cfg := c.base
	cfg.Scopes = mergeScopes(scopes)
	cfg.RedirectURL = redirectURI
	return &cfg
}

// AuthCodeURL は認可リクエストURLを生成する。
func (c *oidcClient) AuthCodeURL(scopes []string, state, redirectURI string) string {
	return c.configFor(scopes, redirectURI).AuthCodeURL(state)
}

// ExchangeCode は認可コードをトークンに交換し、IDトークンを検証してキャッシュに追加する。
func (c *oidcClient) ExchangeCode(ctx context.Context, code string, scopes []string, redirectURI string) (*ExchangeResult, error) {
	cfg := c.configFor(scopes, redirectURI)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	// 認可リクエストと同じスコープをトークンリクエストにも含める
	token, err := cfg.Exchange(ctx, code, oauth2.SetAuthURLParam("scope", strings.Join(cfg.Scopes, " ")))
	if err != nil {
		return nil, exchangeErrorFrom(ctx, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, &ExchangeError{
			Code:        "invalid_response",
			Description: "token response did not include an id_token",
		}
	}

	idToken, err := c.verifier.Verify(oidc.ClientContext(ctx, c.httpClient), rawIDToken)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ExchangeError{Code: "timeout", Description: "key set fetch did not complete in time", Err: err}
		}
		return nil, &ExchangeError{Code: "invalid_id_token", Description: err.Error(), Err: err}
	}

	claims := make(map[string]any)
	if err := idToken.Claims(&claims); err != nil {
		return nil, &ExchangeError{Code: "invalid_id_token", Description: fmt.Sprintf("failed to decode claims: %v", err), Err: err}
	}

	c.cache.Add(idToken.Subject, CachedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		Expiry:       token.Expiry,
		IDToken:      rawIDToken,
		Scopes:       cfg.Scopes,
	})

	return &ExchangeResult{
		Account: idToken.Subject,
		Claims:  claims,
	}, nil
}

// exchangeErrorFrom はトークンエンドポイントのエラーをExchangeErrorに変換する。
func exchangeErrorFrom(ctx context.Context, err error) *ExchangeError {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		code := rErr.ErrorCode
		if code == "" && rErr.Response != nil {
			code = fmt.Sprintf("http_%d", rErr.Response.StatusCode)
		}
		return &ExchangeError{Code: code, Description: rErr.ErrorDescription, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return &ExchangeError{Code: "timeout", Description: "token endpoint did not respond in time", Err: err}
	}
	return &ExchangeError{Code: "request_failed", Description: err.Error(), Err: err}
}

// mergeScopes は予約スコープと要求スコープを重複なく結合する。
func mergeScopes(scopes []string) []string {
	merged := make([]string, 0, len(reservedScopes)+len(scopes))
	seen := make(map[string]bool, cap(merged))
	for _, s := range append(append([]string{}, reservedScopes...), scopes...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		merged = append(merged, s)
	}
	return merged
}

// compile-time interface check
var _ ClientFactory = (*OIDCClientFactory)(nil)
