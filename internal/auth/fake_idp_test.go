package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testRealm = "test"

// fakeIdP はトークンエンドポイントとJWKSエンドポイントを持つテスト用Keycloak。
type fakeIdP struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey
	kid    string

	// tokenFn が設定されている場合、トークンエンドポイントの処理を置き換える
	tokenFn func(w http.ResponseWriter, r *http.Request)

	jwksHits  atomic.Int32
	tokenHits atomic.Int32
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	f := &fakeIdP{t: t, key: key, kid: "test-kid"}

	mux := http.NewServeMux()
	mux.HandleFunc("/realms/"+testRealm+"/protocol/openid-connect/certs", func(w http.ResponseWriter, r *http.Request) {
		f.jwksHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"kid": f.kid,
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/realms/"+testRealm+"/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHits.Add(1)
		if f.tokenFn != nil {
			f.tokenFn(w, r)
			return
		}
		f.writeTokens(w, "alice", time.Hour)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIdP) issuer() string {
	return f.server.URL + "/realms/" + testRealm
}

func (f *fakeIdP) provider() *KeycloakProvider {
	return NewKeycloakProvider(KeycloakConfig{
		AuthServerURL: f.server.URL + "/",
		Realm:         testRealm,
		ClientID:      "registre",
		ClientSecret:  "client-secret",
		RedirectURL:   "http://localhost:3000/auth/callback",
	})
}

func (f *fakeIdP) verifier() *JWKSVerifier {
	return NewJWKSVerifier(f.provider().JWKSURL(), f.issuer(), nil)
}

// claims は有効なアクセストークンのクレームを返す。
func (f *fakeIdP) claims(username string, ttl time.Duration) *AccessClaims {
	now := time.Now()
	c := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    f.issuer(),
			Subject:   "sub-" + username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:              "Bearer",
		PreferredUsername: username,
		Name:              "Test " + username,
		Email:             username + "@example.com",
	}
	c.RealmAccess.Roles = []string{"user"}
	return c
}

// sign はkidヘッダー付きでRS256署名する。
// ハンドラーのゴルーチンからも呼ばれるためErrorfで報告する。
func (f *fakeIdP) sign(claims jwt.Claims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = f.kid
	s, err := token.SignedString(f.key)
	if err != nil {
		f.t.Errorf("failed to sign token: %v", err)
	}
	return s
}

func (f *fakeIdP) accessToken(username string, ttl time.Duration) string {
	return f.sign(f.claims(username, ttl))
}

func (f *fakeIdP) writeTokens(w http.ResponseWriter, username string, ttl time.Duration) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":       f.accessToken(username, ttl),
		"token_type":         "Bearer",
		"expires_in":         int(ttl.Seconds()),
		"refresh_token":      "refresh-" + username,
		"refresh_expires_in": 1800,
		"id_token":           "id-token-" + username,
	})
}
