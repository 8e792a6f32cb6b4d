package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testKeyID        = "test-key"
)

// fakeIdP はトークンエンドポイントとJWKSエンドポイントを持つテスト用IdP。
type fakeIdP struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	mu          sync.Mutex
	claims      map[string]any
	tokenError  map[string]string
	omitIDToken bool
	delay       time.Duration
	lastForm    url.Values
	tokenCalls  int
	keysCalls   int
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("RSA鍵の生成に失敗: %v", err)
	}

	idp := &fakeIdP{
		t:   t,
		key: key,
		claims: map[string]any{
			"sub":                "account-1",
			"preferred_username": "alice@example.com",
			"name":               "Alice",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, idp.handleToken)
	mux.HandleFunc(keysPath, idp.handleKeys)
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)

	return idp
}

func (p *fakeIdP) authority() string {
	return p.server.URL
}

func (p *fakeIdP) setClaims(claims map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims = claims
}

func (p *fakeIdP) setTokenError(code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenError = map[string]string{"error": code, "error_description": description}
}

func (p *fakeIdP) setDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

func (p *fakeIdP) setOmitIDToken(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

func (p *fakeIdP) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCalls
}

func (p *fakeIdP) form() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm
}

// signIDToken はiss・aud・exp等を補ったIDトークンを署名する。
func (p *fakeIdP) signIDToken(claims map[string]any) string {
	p.t.Helper()

	full := map[string]any{
		"iss": p.authority() + "/v2.0",
		"aud": testClientID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		full[k] = v
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: p.key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", testKeyID),
	)
	if err != nil {
		p.t.Fatalf("署名器の生成に失敗: %v", err)
	}
	raw, err := jwt.Signed(signer).Claims(full).Serialize()
	if err != nil {
		p.t.Fatalf("IDトークンの署名に失敗: %v", err)
	}
	return raw
}

func (p *fakeIdP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.tokenCalls++
	p.lastForm = r.PostForm
	delay := p.delay
	tokenError := p.tokenError
	omit := p.omitIDToken
	claims := p.claims
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if tokenError != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(tokenError)
		return
	}

	resp := map[string]any{
		"access_token":  "test-access-token",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": "test-refresh-token",
	}
	if !omit {
		resp["id_token"] = p.signIDToken(claims)
	}
	json.NewEncoder(w).Encode(resp)
}

func (p *fakeIdP) handleKeys(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.keysCalls++
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &p.key.PublicKey,
			KeyID:     testKeyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	})
}

// newTestFactory はfakeIdPに向けたOIDCClientFactoryを生成する。
func newTestFactory(idp *fakeIdP) *OIDCClientFactory {
	return NewOIDCClientFactory(OIDCClientConfig{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		Authority:    idp.authority(),
		HTTPClient:   idp.server.Client(),
	})
}
