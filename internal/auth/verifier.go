package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/registre/internal/model"
)

var (
	// ErrInvalidToken はアクセストークンの検証失敗を表す。認証の失敗として扱う。
	ErrInvalidToken = fmt.Errorf("invalid access token: %w", model.ErrUnauthenticated)
	// ErrKeySetUnavailable はJWKSを取得できず、トークンを検証できなかったことを示す。
	ErrKeySetUnavailable = errors.New("jwks unavailable")
)

// jwksMinRefreshInterval は未知のkidによるJWKS再取得の最短間隔。
const jwksMinRefreshInterval = 30 * time.Second

// AccessClaims はKeycloakのアクセストークンに含まれるクレーム。
type AccessClaims struct {
	jwt.RegisteredClaims

	Type              string `json:"typ,omitempty"`
	SessionState      string `json:"sid,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`
	Email             string `json:"email,omitempty"`
	RealmAccess       struct {
		Roles []string `json:"roles,omitempty"`
	} `json:"realm_access"`
}

// Identity はクレームから利用者情報を組み立てる。
func (c *AccessClaims) Identity() model.Identity {
	return model.Identity{
		Subject:  c.Subject,
		Username: c.PreferredUsername,
		Name:     c.Name,
		Email:    c.Email,
		Roles:    c.RealmAccess.Roles,
	}
}

// ExpiresAtTime はexpクレームの時刻を返す。未設定の場合はゼロ値。
func (c *AccessClaims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// JWKSVerifier はレルムのJWKSを用いてRS256アクセストークンを検証する。
// 公開鍵はキャッシュし、未知のkidを受け取った場合のみ再取得する。
type JWKSVerifier struct {
	jwksURL string
	issuer  string
	client  *http.Client
	now     func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

// NewJWKSVerifier はJWKSVerifierを生成する。
func NewJWKSVerifier(jwksURL, issuer string, client *http.Client) *JWKSVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSVerifier{
		jwksURL: jwksURL,
		issuer:  issuer,
		client:  client,
		now:     time.Now,
		keys:    make(map[string]*rsa.PublicKey),
	}
}

// Verify はトークンの署名・発行者・有効期限・typを検証し、クレームを返す。
func (v *JWKSVerifier) Verify(ctx context.Context, raw string) (*AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)

	claims := &AccessClaims{}
	token, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return v.key(ctx, kid)
	})
	if errors.Is(err, ErrKeySetUnavailable) {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	// リフレッシュトークンやIDトークンをアクセストークンとして受け付けない
	if claims.Type != "" && claims.Type != "Bearer" {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.Type)
	}

	return claims, nil
}

// key はkidに対応する公開鍵を返す。キャッシュにない場合はJWKSを再取得する。
func (v *JWKSVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	pub, ok := v.keys[kid]
	recent := !v.lastFetch.IsZero() && v.now().Sub(v.lastFetch) < jwksMinRefreshInterval
	v.mu.RUnlock()
	if ok {
		return pub, nil
	}
	if recent {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}

	if err := v.refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if pub, ok := v.keys[kid]; ok {
		return pub, nil
	}
	return nil, fmt.Errorf("unknown kid %q", kid)
}

// refresh はJWKSエンドポイントから署名用RSA鍵を取得し、キャッシュを置き換える。
func (v *JWKSVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks request failed with status %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return fmt.Errorf("failed to parse jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := parseRSAPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	v.keys = keys
	v.lastFetch = v.now()
	v.mu.Unlock()
	return nil
}

func parseRSAPublicKey(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eb)
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(e.Int64())}, nil
}
