package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// newTestChain は保護ルートと同じ順序でミドルウェアを組み立てる。
func newTestChain(t *testing.T) http.Handler {
	t.Helper()
	rl := newTestLimiter(t, 100, 100, time.Minute)

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(nil))
	r.Use(NewSecurityHeadersMiddleware(SecurityHeadersConfig{}))

	r.Get("/csrf-token", NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP)
	r.Group(func(r chi.Router) {
		r.Use(NewAuthGateMiddleware(newTestAuthenticator(), AuthGateConfig{Realm: "test"}))
		r.Use(rl.Middleware())
		r.Use(NewCSRFMiddleware(CSRFConfig{}))
		r.Get("/secure", identityEcho)
		r.Post("/personnes", identityEcho)
	})
	return r
}

func TestChain_SecurityHeadersOnEveryResponse(t *testing.T) {
	handler := newTestChain(t)

	for _, path := range []string{"/csrf-token", "/secure", "/unknown"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

			want := map[string]string{
				"X-Content-Type-Options": "nosniff",
				"X-Frame-Options":        "DENY",
				"Referrer-Policy":        "no-referrer",
				"Cache-Control":          "no-store",
			}
			for k, v := range want {
				if got := w.Header().Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
		})
	}
}

func TestChain_ProtectedWrites(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
	}{
		{
			name:       "未認証は401でCSRFより先に拒否",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "セッション認証でCSRFトークンなしは403",
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "good-session"}) },
			wantStatus: http.StatusForbidden,
		},
		{
			name: "セッション認証でCSRFトークンありは200",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "good-session"})
				r.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
				r.Header.Set(csrfHeaderName, "tok")
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "Bearer認証はCSRFトークン不要",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-token") },
			wantStatus: http.StatusOK,
		},
	}

	handler := newTestChain(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/personnes", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
