package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/registre/internal/middleware"
	"github.com/hitoshi/registre/internal/model"
)

const (
	welcomeMessage       = "Registre de personnes! Choisissez le bon routage!"
	authenticatedMessage = "Vous êtes authentifié !"
	healthCheckTimeout   = 3 * time.Second
)

// Home は案内メッセージを返す。
// GET /
func Home(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, welcomeMessage)
}

// secureResponse は/secureのレスポンス。
type secureResponse struct {
	Message string `json:"message"`
	User    string `json:"user"`
}

// Secure は認証済み利用者のユーザー名を返す。
// GET /secure
func Secure(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.MsgAccessDenied)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, secureResponse{
		Message: authenticatedMessage,
		User:    identity.Username,
	})
}

// HealthChecker はヘルスチェックで使うストアの件数取得インターフェース。
// *repository.SQLPersonneRepoが満たす。
type HealthChecker interface {
	Count(ctx context.Context) (int64, error)
}

// NewHealthHandler はpersonnesテーブルの件数取得でストアを確認するヘルスチェックハンドラーを返す。
// 接続だけでなくマイグレーション済みのスキーマが読めることも確認する。
// GET /health
func NewHealthHandler(store HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if _, err := store.Count(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.MsgServiceUnhealthy)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
