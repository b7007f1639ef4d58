package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/dentalfront/internal/model"
)

var (
	corsAllowedMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	corsAllowedHeaders = strings.Join([]string{"Content-Type", csrfHeaderName, requestIDHeader}, ", ")
	corsExposedHeaders = strings.Join([]string{requestIDHeader, "Retry-After"}, ", ")
)

// NewCORSMiddleware は受付画面のオリジンだけにCORSを許可するミドルウェアを返す。
//
// Originが一致するリクエストにのみCORSヘッダーを付ける。Cookieを送らせるため
// ワイルドカードは使わない。許可外オリジンからのプリフライトは403で断る。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			allowed := origin != "" && origin == allowedOrigin
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowedOrigin)
				h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				if origin != "" && !allowed {
					slog.Warn("CORS preflight from disallowed origin",
						slog.String("origin", origin),
						slog.String("path", r.URL.Path),
					)
					WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
						Kind:     model.KindUnauthorized,
						Code:     "CORS_ORIGIN_DENIED",
						Message:  "Origin not allowed.",
						Category: "auth",
						Action:   "許可されたオリジンから接続してください。",
					})
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
