// Package logger はJSON構造化ログを設定する。
package logger

import (
	"io"
	"log/slog"
	"os"
)

// redacted はマスクした値の表記。
const redacted = "[REDACTED]"

// sensitiveKeys はログに値を残さない属性キー。
var sensitiveKeys = map[string]bool{
	"password":      true,
	"access":        true,
	"refresh":       true,
	"token":         true,
	"authorization": true,
	"sessionid":     true,
	"csrftoken":     true,
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// levelより低いレベルのログは出力しない。資格情報に当たる属性の値はマスクする。
func Setup(w io.Writer, level slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定し、そのロガーを返す。
// wがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, level)
	slog.SetDefault(logger)
	return logger
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[a.Key] {
		return slog.String(a.Key, redacted)
	}
	return a
}
