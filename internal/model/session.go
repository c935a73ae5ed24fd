package model

import "time"

// Identity はIdPが発行したトークンから解決した利用者情報を表す。
type Identity struct {
	Subject  string   `json:"sub"`
	Username string   `json:"preferred_username"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// Grant は認証済みセッションに紐づくトークンとクレームを表す。
type Grant struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	IDToken          string    `json:"id_token,omitempty"`
	Identity         Identity  `json:"identity"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// AccessExpired はアクセストークンが期限切れかどうかを返す。
func (g *Grant) AccessExpired(now time.Time) bool {
	return !now.Before(g.AccessExpiresAt)
}

// CanRefresh はリフレッシュトークンで再取得可能かどうかを返す。
// 有効期限が不明なリフレッシュトークンは有効とみなす。
func (g *Grant) CanRefresh(now time.Time) bool {
	if g.RefreshToken == "" {
		return false
	}
	return g.RefreshExpiresAt.IsZero() || now.Before(g.RefreshExpiresAt)
}
