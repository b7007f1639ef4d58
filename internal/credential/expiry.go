package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenExpired はアクセストークンがJWTとして読め、expクレームがnow以前ならtrueを返す。
// 署名は検証しない（検証はバックエンドの責務）。JWTとして読めないトークンや
// expを持たないトークンは期限切れと判断できないためfalseを返す。
func AccessTokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
