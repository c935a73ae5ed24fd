package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrTokenRejected はトークンエンドポイントが要求を4xxで拒否したことを示す。
var ErrTokenRejected = errors.New("token request rejected")

// KeycloakConfig はKeycloakレルムへの接続設定。
type KeycloakConfig struct {
	AuthServerURL string // 例: "http://localhost:8080/"
	Realm         string
	ClientID      string
	ClientSecret  string // public clientの場合は空
	RedirectURL   string // 認可コードの受け取り先（/auth/callback）

	// HTTPClientがnilの場合は10秒タイムアウトのクライアントを使用する
	HTTPClient *http.Client
}

// TokenSet はトークンエンドポイントのレスポンス。
type TokenSet struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	IDToken          string `json:"id_token"`
}

// keycloakErrorResponse はトークンエンドポイントのエラーレスポンス。
type keycloakErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// KeycloakProvider はKeycloakのOpenID Connectエンドポイントとの通信を提供する。
type KeycloakProvider struct {
	config KeycloakConfig
	client *http.Client
}

// NewKeycloakProvider はKeycloakProviderを生成する。
func NewKeycloakProvider(config KeycloakConfig) *KeycloakProvider {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeycloakProvider{config: config, client: client}
}

// RealmURL はレルムのベースURLを返す。発行者（iss）と一致する。
func (p *KeycloakProvider) RealmURL() string {
	return strings.TrimRight(p.config.AuthServerURL, "/") + "/realms/" + url.PathEscape(p.config.Realm)
}

// Realm はレルム名を返す。
func (p *KeycloakProvider) Realm() string {
	return p.config.Realm
}

func (p *KeycloakProvider) endpoint(name string) string {
	return p.RealmURL() + "/protocol/openid-connect/" + name
}

// JWKSURL はレルムの公開鍵セットのURLを返す。
func (p *KeycloakProvider) JWKSURL() string {
	return p.endpoint("certs")
}

// GetLoginURL は認可コードフローの開始URLを生成する。
func (p *KeycloakProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid"},
		"state":         {state},
	}
	return p.endpoint("auth") + "?" + params.Encode()
}

// GetLogoutURL はレルムのend-sessionエンドポイントURLを生成する。
// idTokenHintが空の場合はclient_idを付与する。
func (p *KeycloakProvider) GetLogoutURL(idTokenHint, postLogoutRedirect string) string {
	params := url.Values{
		"post_logout_redirect_uri": {postLogoutRedirect},
	}
	if idTokenHint != "" {
		params.Set("id_token_hint", idTokenHint)
	} else {
		params.Set("client_id", p.config.ClientID)
	}
	return p.endpoint("logout") + "?" + params.Encode()
}

// ExchangeCode は認可コードをトークンに交換する。
func (p *KeycloakProvider) ExchangeCode(ctx context.Context, code string) (*TokenSet, error) {
	return p.requestToken(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {p.config.RedirectURL},
	})
}

// Refresh はリフレッシュトークンで新しいトークンを取得する。
func (p *KeycloakProvider) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return p.requestToken(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

// requestToken はトークンエンドポイントにPOSTする。
func (p *KeycloakProvider) requestToken(ctx context.Context, data url.Values) (*TokenSet, error) {
	data.Set("client_id", p.config.ClientID)
	if p.config.ClientSecret != "" {
		data.Set("client_secret", p.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("token"), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var kerr keycloakErrorResponse
		_ = json.Unmarshal(body, &kerr)
		// 4xxはIdPによる拒否(invalid_grant等)、それ以外はIdP側の障害
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w (%d): %s: %s", ErrTokenRejected, resp.StatusCode, kerr.Error, kerr.ErrorDescription)
		}
		return nil, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tokens TokenSet
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tokens, nil
}
