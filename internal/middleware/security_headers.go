package middleware

import (
	"net/http"
	"strings"
)

// NewSecurityHeadersMiddleware は管理画面向けのセキュリティヘッダーを付与するミドルウェアを返す。
// imgOriginsにはアップロード画像の配信元（例: https://assets.example.com）を指定する。
// 管理画面はフラッシュ通知を含むためキャッシュさせない。
func NewSecurityHeadersMiddleware(imgOrigins ...string) func(next http.Handler) http.Handler {
	imgSrc := "'self' data:"
	if len(imgOrigins) > 0 {
		imgSrc += " " + strings.Join(imgOrigins, " ")
	}
	csp := "default-src 'self'; img-src " + imgSrc + "; style-src 'self' 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "same-origin")
			h.Set("Content-Security-Policy", csp)
			if strings.HasPrefix(r.URL.Path, "/admin") {
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}
