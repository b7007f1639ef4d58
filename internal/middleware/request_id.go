// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"

	"github.com/google/uuid"
)

// requestIDHeader はリクエストIDをやり取りするヘッダー名。
const requestIDHeader = "X-Request-ID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// requestIDContextKey はリクエストコンテキストにリクエストIDを格納するためのキー。
var requestIDContextKey = contextKey("request_id")

// RequestIDFromContext はリクエストコンテキストからリクエストIDを取得する。
// ロギングミドルウェアを通過していない場合は空文字列を返す。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// ContextWithRequestID はコンテキストにリクエストIDを注入する。
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// requestIDFrom は受け取ったIDがUUIDとして妥当ならそれを使い、そうでなければ新たに採番する。
func requestIDFrom(incoming string) string {
	if incoming != "" {
		if id, err := uuid.Parse(incoming); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}
