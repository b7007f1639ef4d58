package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラー内のpanicを回収して500を返すミドルウェアを返す。
//
// レスポンスを書き始めた後のpanicはログのみ残し、ボディを二重に書かない。
// http.ErrAbortHandlerはnet/httpに任せるため再度panicさせる。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				slog.Error("panic recovered",
					slog.Any("panic", v),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.Bool("response_started", rec.written),
					slog.String("stack", string(debug.Stack())),
				)
				if !rec.written {
					WriteInternalServerError(rec)
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
