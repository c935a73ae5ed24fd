// Package auth はKeycloakによる認証フロー、トークン検証、セッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/registre/internal/model"
	"github.com/hitoshi/registre/internal/repository"
)

// 認証の失敗を表すエラー。これ以外のエラーはストアやIdPの障害として扱う。
var (
	ErrUnauthenticated = model.ErrUnauthenticated
	ErrSessionExpired  = model.ErrSessionExpired
)

// IdentityProvider はOpenID Connectプロバイダーのインターフェース。
type IdentityProvider interface {
	// GetLoginURL は認可コードフローの開始URLを生成する。
	GetLoginURL(state string) string
	// GetLogoutURL はend-sessionエンドポイントのURLを生成する。
	GetLogoutURL(idTokenHint, postLogoutRedirect string) string
	// ExchangeCode は認可コードをトークンに交換する。
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)
	// Refresh はリフレッシュトークンで新しいトークンを取得する。
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// TokenVerifier はアクセストークンの検証インターフェース。
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*AccessClaims, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge         int    // セッション有効期間（秒）
	PostLogoutRedirectURL string // ログアウト後の戻り先
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	idp         IdentityProvider
	verifier    TokenVerifier
	sessionRepo repository.SessionRepository
	signer      *CookieSigner
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	idp IdentityProvider,
	verifier TokenVerifier,
	sessionRepo repository.SessionRepository,
	signer *CookieSigner,
	config ServiceConfig,
) *Service {
	return &Service{
		idp:         idp,
		verifier:    verifier,
		sessionRepo: sessionRepo,
		signer:      signer,
		config:      config,
		now:         time.Now,
	}
}

// NewState はCSRF対策用のstateパラメータを生成する。
func (s *Service) NewState() (string, error) {
	return generateRandomHex(16)
}

// GetLoginURL は認可コードフローの開始URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.idp.GetLoginURL(state)
}

// SignCookie はCookie値に署名を付与する。
func (s *Service) SignCookie(value string) string {
	return s.signer.Sign(value)
}

// VerifyCookie は署名付きCookie値を検証し、元の値を返す。
func (s *Service) VerifyCookie(signed string) (string, bool) {
	return s.signer.Verify(signed)
}

// HandleCallback は認可コードをトークンに交換し、Grantを作成して保存する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Grant, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	// 1. 認可コードをトークンに交換
	tokens, err := s.idp.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	// 2. アクセストークンを検証し、利用者情報を取得
	claims, err := s.verifier.Verify(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify access token: %w", err)
	}

	// 3. Grantを作成
	sessionID, err := generateRandomHex(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	grant := &model.Grant{
		SessionID: sessionID,
		Identity:  claims.Identity(),
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	s.applyTokens(grant, tokens, claims, now)

	if err := s.sessionRepo.Save(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user", grant.Identity.Username),
		slog.String("subject", grant.Identity.Subject),
	)
	return grant, nil
}

// SessionCookieValue はGrantに対応する署名付きCookie値を返す。
func (s *Service) SessionCookieValue(grant *model.Grant) string {
	return s.signer.Sign(grant.SessionID)
}

// ResolveSession は署名付きCookie値からGrantを取得する。
// アクセストークンが失効している場合はリフレッシュを試みる。
// リフレッシュがIdPに拒否された場合のみセッションを削除してErrSessionExpiredを返す。
// ストアやIdPに到達できない場合はセッションを残したまま障害エラーを返す。
func (s *Service) ResolveSession(ctx context.Context, cookieValue string) (*model.Grant, error) {
	sessionID, ok := s.signer.Verify(cookieValue)
	if !ok {
		return nil, ErrUnauthenticated
	}

	grant, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if grant == nil {
		return nil, ErrUnauthenticated
	}

	now := s.now()
	if !grant.AccessExpired(now) {
		return grant, nil
	}

	err = s.refresh(ctx, grant, now)
	switch {
	case err == nil:
		return grant, nil
	case errors.Is(err, ErrSessionExpired):
		slog.Info("session expired",
			slog.String("user", grant.Identity.Username),
			slog.String("reason", err.Error()),
		)
		if delErr := s.sessionRepo.DeleteByID(ctx, grant.SessionID); delErr != nil {
			slog.Error("failed to delete expired session", slog.String("error", delErr.Error()))
		}
		return nil, ErrSessionExpired
	default:
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
}

// refresh はリフレッシュトークンでGrantのトークンを更新して保存する。
// 更新できないことが確定した場合はErrSessionExpiredをラップして返す。
func (s *Service) refresh(ctx context.Context, grant *model.Grant, now time.Time) error {
	if !grant.CanRefresh(now) {
		return fmt.Errorf("%w: refresh token unavailable", ErrSessionExpired)
	}

	tokens, err := s.idp.Refresh(ctx, grant.RefreshToken)
	if errors.Is(err, ErrTokenRejected) {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	claims, err := s.verifier.Verify(ctx, tokens.AccessToken)
	if errors.Is(err, ErrInvalidToken) {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if err != nil {
		return fmt.Errorf("failed to verify refreshed token: %w", err)
	}

	grant.Identity = claims.Identity()
	s.applyTokens(grant, tokens, claims, now)

	if err := s.sessionRepo.Save(ctx, grant); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// applyTokens はトークンレスポンスの内容をGrantに反映する。
// レスポンスに含まれないリフレッシュトークン・IDトークンは既存の値を維持する。
func (s *Service) applyTokens(grant *model.Grant, tokens *TokenSet, claims *AccessClaims, now time.Time) {
	grant.AccessToken = tokens.AccessToken
	grant.AccessExpiresAt = claims.ExpiresAtTime()
	if grant.AccessExpiresAt.IsZero() {
		grant.AccessExpiresAt = now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}

	if tokens.RefreshToken != "" {
		grant.RefreshToken = tokens.RefreshToken
		grant.RefreshExpiresAt = time.Time{}
		if tokens.RefreshExpiresIn > 0 {
			grant.RefreshExpiresAt = now.Add(time.Duration(tokens.RefreshExpiresIn) * time.Second)
		}
	}
	if tokens.IDToken != "" {
		grant.IDToken = tokens.IDToken
	}
}

// VerifyBearer はBearerトークンを検証し、利用者情報を返す。
func (s *Service) VerifyBearer(ctx context.Context, rawToken string) (*model.Identity, error) {
	if rawToken == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	identity := claims.Identity()
	return &identity, nil
}

// Logout はセッションを破棄し、IdPのログアウトURLを返す。
// Cookieが無効な場合もログアウトURLは返す。
func (s *Service) Logout(ctx context.Context, cookieValue string) (string, error) {
	sessionID, ok := s.signer.Verify(cookieValue)
	if !ok {
		return s.idp.GetLogoutURL("", s.config.PostLogoutRedirectURL), nil
	}

	var idTokenHint string
	grant, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		slog.Warn("failed to find session on logout", slog.String("error", err.Error()))
	}
	if grant != nil {
		idTokenHint = grant.IDToken
	}

	logoutURL := s.idp.GetLogoutURL(idTokenHint, s.config.PostLogoutRedirectURL)

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return logoutURL, fmt.Errorf("failed to delete session: %w", err)
	}

	if grant != nil {
		slog.Info("user logged out", slog.String("user", grant.Identity.Username))
	}
	return logoutURL, nil
}
