package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/dentalfront/internal/model"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookieの名前。
	// 画面側のJavaScriptが読んでX-CSRF-Tokenに載せるため、HttpOnlyにしない。
	csrfCookieName = "dentalfront_csrf"

	csrfHeaderName = "X-CSRF-Token"

	// DefaultCSRFTokenTTL は受付端末の1勤務分を想定したトークンの有効期間。
	DefaultCSRFTokenTTL = 8 * time.Hour
)

type csrfContextKey struct{}

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	// TTL はCookieの有効期間。0の場合はDefaultCSRFTokenTTL。
	TTL time.Duration
}

func (c CSRFConfig) ttl() time.Duration {
	if c.TTL <= 0 {
		return DefaultCSRFTokenTTL
	}
	return c.TTL
}

// csrfTokenResponse は GET /api/csrf-token のレスポンス。
type csrfTokenResponse struct {
	Token      string    `json:"token"`
	HeaderName string    `json:"header_name"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
}

// NewCSRFMiddleware はダブルサブミット方式のCSRF検証ミドルウェアを返す。
//
// GET, HEAD, OPTIONSは検証せず、Cookieが無ければトークンを発行する。
// それ以外のメソッドはCookieとX-CSRF-Tokenヘッダーの一致を要求し、
// バックエンドへの書き込み（ログイン・予約・来院記録など）より前に403で止める。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				if token, issued := ensureCSRFCookie(w, r, config); issued {
					r = r.WithContext(context.WithValue(r.Context(), csrfContextKey{}, token))
				}
				next.ServeHTTP(w, r)
				return
			}

			if reason := validateCSRF(r); reason != "" {
				slog.Warn("CSRF validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				writeCSRFFailure(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validateCSRF は検証に失敗した理由を返す。成功時は空文字列。
func validateCSRF(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return "missing_cookie"
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return "missing_header"
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return "mismatch"
	}
	return ""
}

// NewCSRFTokenHandler は GET /api/csrf-token のハンドラーを返す。
//
// 同じリクエストでミドルウェアが発行したトークン、既存のCookie、新規発行の順に使う。
// Set-Cookieは1リクエストにつき高々1つ。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := csrfTokenResponse{HeaderName: csrfHeaderName}

		if token, ok := r.Context().Value(csrfContextKey{}).(string); ok {
			resp.Token = token
			resp.ExpiresAt = time.Now().Add(config.ttl()).UTC()
		} else if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
			resp.Token = cookie.Value
		} else {
			token, err := generateCSRFToken()
			if err != nil {
				slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			setCSRFCookie(w, token, config)
			resp.Token = token
			resp.ExpiresAt = time.Now().Add(config.ttl()).UTC()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}

func writeCSRFFailure(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
		Kind:     model.KindUnauthorized,
		Code:     "CSRF_VALIDATION_FAILED",
		Message:  "CSRF token validation failed.",
		Category: "auth",
		Action:   "GET /api/csrf-token でトークンを取得し、X-CSRF-Tokenヘッダーに設定してください。",
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// ensureCSRFCookie はCookieが無い場合にトークンを発行する。
// 発行した場合はそのトークンとtrueを返す。
func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, config CSRFConfig) (string, bool) {
	if _, err := r.Cookie(csrfCookieName); err == nil {
		return "", false
	}

	token, err := generateCSRFToken()
	if err != nil {
		slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
		return "", false
	}
	setCSRFCookie(w, token, config)
	return token, true
}

func setCSRFCookie(w http.ResponseWriter, token string, config CSRFConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   int(config.ttl() / time.Second),
		HttpOnly: false,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// generateCSRFToken は32バイトの乱数を16進文字列にする。
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
