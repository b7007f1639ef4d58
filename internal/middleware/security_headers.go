package middleware

import "net/http"

// apiContentSecurityPolicy はJSONしか返さないAPI向けのCSP。
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はセキュリティ関連のレスポンスヘッダーを付ける。
// 患者情報を中間キャッシュに残さないよう、全レスポンスをno-storeにする。
// hstsがtrueのときはStrict-Transport-Securityも付ける。
func NewSecurityHeadersMiddleware(hsts bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", apiContentSecurityPolicy)
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Cache-Control", "no-store")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000")
			}
			next.ServeHTTP(w, r)
		})
	}
}
