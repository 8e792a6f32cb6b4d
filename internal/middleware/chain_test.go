package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

// newTestChain はアプリケーションと同じ順序でミドルウェアを組んだルーターを返す。
func newTestChain(loader SessionLoader) chi.Router {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&buf, nil))))
	r.Use(NewRecoveryMiddleware())
	r.Use(NewSecurityHeadersMiddleware("https://blob.example.com"))
	r.Use(NewSessionMiddleware(loader))
	r.Use(NewCSRFMiddleware(CSRFConfig{}))

	r.Get("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(CSRFTokenFromContext(r.Context())))
	})
	r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	r.Group(func(r chi.Router) {
		r.Use(NewRequireLoginMiddleware())
		r.Get("/home", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Post("/new_post", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
	})
	return r
}

func TestMiddlewareChain_AnonymousHomeRedirectsToLogin(t *testing.T) {
	r := newTestChain(&mockSessionLoader{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/home", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "/login?next=") {
		t.Errorf("Location = %q", loc)
	}
}

func TestMiddlewareChain_AuthenticatedHomePasses(t *testing.T) {
	r := newTestChain(authenticatedLoader("u1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/home", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "img-src 'self' https://blob.example.com") {
		t.Errorf("Content-Security-Policy = %q", csp)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("X-Frame-Options should be DENY")
	}
}

func TestMiddlewareChain_POSTWithoutCSRFIsRejected(t *testing.T) {
	r := newTestChain(authenticatedLoader("u1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/new_post", nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestMiddlewareChain_CSRFTokenFromLoginPageIsAccepted(t *testing.T) {
	r := newTestChain(authenticatedLoader("u1"))

	page := httptest.NewRecorder()
	r.ServeHTTP(page, httptest.NewRequest(http.MethodGet, "/login", nil))
	token := page.Body.String()
	cookie := findCookie(page.Result(), csrfCookieName)
	if token == "" || cookie == nil {
		t.Fatalf("token = %q, cookie = %v", token, cookie)
	}

	req := httptest.NewRequest(http.MethodPost, "/new_post", strings.NewReader(CSRFFormField+"="+token))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestMiddlewareChain_PanicIsRecovered(t *testing.T) {
	r := newTestChain(&mockSessionLoader{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
