package handler

import (
	"encoding/base64"
	"net/http"
)

const flashCookieName = "flash"

// FlashConfig は通知Cookieの設定。
type FlashConfig struct {
	CookieSecure bool
	CookieDomain string
}

// setFlash は次に描画するページで一度だけ表示する通知を設定する。
func setFlash(w http.ResponseWriter, cfg FlashConfig, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(message)),
		Path:     "/admin",
		Domain:   cfg.CookieDomain,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash は通知を読み出し、Cookieを削除する。通知がない場合は空文字を返す。
func popFlash(w http.ResponseWriter, r *http.Request, cfg FlashConfig) string {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/admin",
		Domain:   cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	b, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return ""
	}
	return string(b)
}
