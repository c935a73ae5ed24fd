package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/registre/internal/model"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookieの名前。
	// フロントエンドからJavaScriptで読み取れるよう、HttpOnlyではない。
	csrfCookieName = "csrf_token"

	// csrfHeaderName は状態変更リクエストでトークンを送り返すヘッダー名。
	csrfHeaderName = "X-CSRF-Token"

	defaultCSRFMaxAge = 86400
)

// CSRFConfig はCSRFトークンCookieの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	// MaxAge はトークンCookieの有効秒数。0以下なら24時間。セッション寿命に揃える。
	MaxAge int
}

// csrfGuard はダブルサブミットCookie方式でセッションCookie経由の書き込みを保護する。
type csrfGuard struct {
	cfg CSRFConfig
}

func newCSRFGuard(cfg CSRFConfig) *csrfGuard {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultCSRFMaxAge
	}
	return &csrfGuard{cfg: cfg}
}

// NewCSRFMiddleware はCSRFトークンの発行と検証を行うミドルウェアを返す。
// 認証ゲートの後に配置する。
// 安全なメソッドは検証せず、トークンCookieが未発行なら発行する。
// Bearerトークンで認証されたリクエストはCookieを使わないため検証しない。
func NewCSRFMiddleware(cfg CSRFConfig) func(next http.Handler) http.Handler {
	g := newCSRFGuard(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case isSafeMethod(r.Method):
				if _, err := r.Cookie(csrfCookieName); err != nil {
					if _, err := g.issue(w); err != nil {
						slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
					}
				}
			case AuthMethodFromContext(r.Context()) == AuthMethodBearer:
			default:
				if reason := g.check(r); reason != "" {
					slog.Warn("CSRF validation failed",
						slog.String("reason", reason),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("request_id", RequestIDFromContext(r.Context())),
					)
					WriteErrorResponse(w, http.StatusForbidden, model.MsgCSRFInvalid)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// check はCookieとヘッダーのトークンを照合し、不一致なら理由を返す。
func (g *csrfGuard) check(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return "missing cookie token"
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return "missing header token"
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return "token mismatch"
	}
	return ""
}

// issue は新しいトークンを生成してCookieに設定する。
func (g *csrfGuard) issue(w http.ResponseWriter) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   g.cfg.CookieDomain,
		MaxAge:   g.cfg.MaxAge,
		HttpOnly: false,
		Secure:   g.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// NewCSRFTokenHandler はGET /csrf-token のハンドラーを返す。
// 発行済みのトークンがあればそれを返し、なければ新規に発行する。
func NewCSRFTokenHandler(cfg CSRFConfig) http.Handler {
	g := newCSRFGuard(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
			WriteJSON(w, http.StatusOK, map[string]string{"token": cookie.Value})
			return
		}

		token, err := g.issue(w)
		if err != nil {
			slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
			WriteInternalServerError(w)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"token": token})
	})
}

// isSafeMethod はHTTPメソッドが読み取り専用かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
