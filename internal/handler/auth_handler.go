// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/registre/internal/middleware"
	"github.com/hitoshi/registre/internal/model"
)

const (
	sessionCookieName = middleware.SessionCookieName
	oauthStateCookie  = "oauth_state"
	defaultRedirect   = "/secure"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	NewState() (string, error)
	GetLoginURL(state string) string
	SignCookie(value string) string
	VerifyCookie(signed string) (string, bool)
	HandleCallback(ctx context.Context, code string) (*model.Grant, error)
	SessionCookieValue(grant *model.Grant) string
	Logout(ctx context.Context, cookieValue string) (string, error)
}

// LoginRecorder はログイン結果の記録先。metrics.Collectorが実装する。
type LoginRecorder interface {
	RecordLogin(outcome string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
	Recorder      LoginRecorder
}

func (c AuthHandlerConfig) cookie() middleware.CookieConfig {
	return middleware.CookieConfig{Domain: c.CookieDomain, Secure: c.CookieSecure}
}

// AuthHandler はKeycloak認証フローのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login は認可コードフローを開始する。
// GET /login?redirect=/secure
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.NewState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateと戻り先を署名してCookieに保存（CSRF対策）
	target := safeRedirect(r.URL.Query().Get("redirect"))
	h.setCookie(w, oauthStateCookie, h.service.SignCookie(state+"|"+target), 600)

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はIdPからのコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// 1. stateの検証（CSRF対策）
	target, ok := h.verifyState(r, query.Get("state"))
	// stateクッキーは結果にかかわらず削除
	h.setCookie(w, oauthStateCookie, "", -1)
	if !ok {
		slog.Warn("oauth state mismatch", slog.String("query_state", query.Get("state")))
		h.record("invalid_state")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.MsgInvalidState)
		return
	}

	// 2. IdPがエラーを返した場合（利用者による拒否など）
	if idpErr := query.Get("error"); idpErr != "" {
		slog.Info("identity provider returned error",
			slog.String("error", idpErr),
			slog.String("description", query.Get("error_description")),
		)
		h.record("denied")
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.MsgAccessDenied)
		return
	}

	// 3. 認可コードの取得
	code := query.Get("code")
	if code == "" {
		h.record("invalid_request")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.MsgMissingCode)
		return
	}

	// 4. 認証処理
	grant, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.record("failure")
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.MsgAccessDenied)
		return
	}
	h.record("success")

	// 5. セッションCookieを設定（HTTP Only）
	h.setCookie(w, sessionCookieName, h.service.SessionCookieValue(grant), h.config.SessionMaxAge)

	// 6. 元のページにリダイレクト
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄し、IdPのログアウトエンドポイントへリダイレクトする。
// GET /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var cookieValue string
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		cookieValue = cookie.Value
	}

	logoutURL, err := h.service.Logout(r.Context(), cookieValue)
	if err != nil {
		// ログアウト失敗してもCookieはクリアする
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	h.setCookie(w, sessionCookieName, "", -1)
	http.Redirect(w, r, logoutURL, http.StatusTemporaryRedirect)
}

// verifyState はstateクッキーを検証し、保存された戻り先を返す。
func (h *AuthHandler) verifyState(r *http.Request, queryState string) (string, bool) {
	if queryState == "" {
		return "", false
	}
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil {
		return "", false
	}
	payload, ok := h.service.VerifyCookie(cookie.Value)
	if !ok {
		return "", false
	}
	state, target, found := strings.Cut(payload, "|")
	if !found || state != queryState {
		return "", false
	}
	return safeRedirect(target), true
}

// setCookie は認証ゲートと同じ属性でCookieを書き込む。
func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	h.config.cookie().Set(w, name, value, maxAge)
}

func (h *AuthHandler) record(outcome string) {
	if h.config.Recorder != nil {
		h.config.Recorder.RecordLogin(outcome)
	}
}

// safeRedirect はオープンリダイレクトを防ぐため、同一オリジンの絶対パスのみ許可する。
func safeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return defaultRedirect
	}
	return target
}
