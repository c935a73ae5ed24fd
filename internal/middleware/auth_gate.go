// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/registre/internal/model"
)

// 認証方式
const (
	AuthMethodBearer  = "bearer"
	AuthMethodSession = "session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証済み主体を格納するためのキー。
var principalContextKey = contextKey("principal")

type principal struct {
	identity model.Identity
	method   string
}

// Authenticator は認証ゲートが資格情報の解決に使用するインターフェース。
// auth.Serviceの部分集合として定義する。
type Authenticator interface {
	VerifyBearer(ctx context.Context, rawToken string) (*model.Identity, error)
	ResolveSession(ctx context.Context, cookieValue string) (*model.Grant, error)
}

// AuthRecorder は認証結果を記録するインターフェース。
type AuthRecorder interface {
	RecordAuthResult(method, outcome string)
}

// AuthGateConfig は認証ゲートの設定。
type AuthGateConfig struct {
	Realm      string       // WWW-Authenticateヘッダーのrealm
	LoginPath  string       // ブラウザのリダイレクト先。空の場合はリダイレクトしない
	BearerOnly bool         // trueの場合はセッションCookieを受け付けない
	Cookie     CookieConfig // 無効なセッションCookieの削除に使う。発行側と揃える
	Recorder   AuthRecorder
}

// NewAuthGateMiddleware は保護ルートの認証ゲートを返す。
// Authorization: Bearer ヘッダーを優先し、次にセッションCookieを検証する。
// 未認証の場合、HTMLを受け付けるGETリクエストはログインへリダイレクトし、
// それ以外は401を返す。
// 資格情報を検証できなかった場合(ストアやIdPの障害)は503を返し、Cookieは残す。
func NewAuthGateMiddleware(authn Authenticator, config AuthGateConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Bearerトークン
			if raw, ok := bearerToken(r); ok {
				identity, err := authn.VerifyBearer(r.Context(), raw)
				switch {
				case err == nil:
					config.record(AuthMethodBearer, "success")
					next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), *identity, AuthMethodBearer)))
				case isAuthFailure(err):
					slog.Info("bearer token rejected",
						slog.String("path", r.URL.Path),
						slog.String("reason", err.Error()),
					)
					config.record(AuthMethodBearer, "rejected")
					writeUnauthorized(w, config.Realm, "invalid_token")
				default:
					config.unavailable(w, r, AuthMethodBearer, err)
				}
				return
			}

			// 2. セッションCookie
			if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" && !config.BearerOnly {
				grant, err := authn.ResolveSession(r.Context(), cookie.Value)
				switch {
				case err == nil:
					config.record(AuthMethodSession, "success")
					next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), grant.Identity, AuthMethodSession)))
					return
				case isAuthFailure(err):
					slog.Info("session rejected",
						slog.String("path", r.URL.Path),
						slog.String("reason", err.Error()),
					)
					config.record(AuthMethodSession, "rejected")
					config.Cookie.Clear(w, SessionCookieName)
				default:
					config.unavailable(w, r, AuthMethodSession, err)
					return
				}
			} else {
				config.record("none", "rejected")
			}

			// 3. 未認証
			if config.LoginPath != "" && !config.BearerOnly && wantsHTML(r) {
				target := config.LoginPath + "?redirect=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			writeUnauthorized(w, config.Realm, "")
		})
	}
}

// isAuthFailure は資格情報そのものが無効・失効している場合にtrueを返す。
func isAuthFailure(err error) bool {
	return errors.Is(err, model.ErrUnauthenticated) || errors.Is(err, model.ErrSessionExpired)
}

func (c AuthGateConfig) record(method, outcome string) {
	if c.Recorder != nil {
		c.Recorder.RecordAuthResult(method, outcome)
	}
}

// unavailable は資格情報を検証できなかったリクエストに503を返す。
func (c AuthGateConfig) unavailable(w http.ResponseWriter, r *http.Request, method string, err error) {
	slog.Error("failed to verify credentials",
		slog.String("method", method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	c.record(method, "error")
	WriteErrorResponse(w, http.StatusServiceUnavailable, model.MsgAuthUnavailable)
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// wantsHTML はブラウザからのページ遷移リクエストかどうかを判定する。
func wantsHTML(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// writeUnauthorized は401レスポンスとWWW-Authenticateヘッダーを書き込む。
func writeUnauthorized(w http.ResponseWriter, realm, errCode string) {
	challenge := fmt.Sprintf("Bearer realm=%q", realm)
	if errCode != "" {
		challenge += fmt.Sprintf(", error=%q", errCode)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	WriteErrorResponse(w, http.StatusUnauthorized, model.MsgAccessDenied)
}

func withPrincipal(ctx context.Context, identity model.Identity, method string) context.Context {
	setRequestUser(ctx, identity.Username)
	return context.WithValue(ctx, principalContextKey, &principal{identity: identity, method: method})
}

// IdentityFromContext はリクエストコンテキストから認証済みの利用者情報を取得する。
// 認証ゲートを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	p, ok := ctx.Value(principalContextKey).(*principal)
	if !ok || p == nil {
		return nil, fmt.Errorf("identity not found in context")
	}
	identity := p.identity
	return &identity, nil
}

// AuthMethodFromContext はリクエストの認証方式を返す。未認証の場合は空文字。
func AuthMethodFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(principalContextKey).(*principal); ok && p != nil {
		return p.method
	}
	return ""
}

// ContextWithIdentity はコンテキストに利用者情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity model.Identity, method string) context.Context {
	return withPrincipal(ctx, identity, method)
}
