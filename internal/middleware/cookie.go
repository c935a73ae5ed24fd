package middleware

import "net/http"

// SessionCookieName はセッションCookieの名前。
const SessionCookieName = "session_id"

// CookieConfig は認証関連Cookieに共通の属性。
// 発行と削除で同じDomain/Secureを使わないとブラウザ上のCookieが消えない。
type CookieConfig struct {
	Domain string
	Secure bool
}

// Set はHttpOnly・SameSite=LaxのCookieを書き込む。
func (c CookieConfig) Set(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear はCookieを削除する。
func (c CookieConfig) Clear(w http.ResponseWriter, name string) {
	c.Set(w, name, "", -1)
}
