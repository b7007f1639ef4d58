package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dentalfront/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。kindはUI側の分岐に使う。
type ErrorResponseBody struct {
	Kind     string   `json:"kind"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Messages []string `json:"messages,omitempty"`
	Category string   `json:"category"`
	Action   string   `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Kind:     string(apiErr.Kind),
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Messages: apiErr.Messages,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteAPIError はエラーの分類に応じたステータスコードでエラーレスポンスを書き込む。
// model.APIError以外のエラーはログに記録し、内部エラーとして返す。
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unexpected error", slog.String("error", err.Error()))
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, StatusForError(apiErr), apiErr)
}

// StatusForError はエラーの分類をBFFのHTTPステータスに対応付ける。
func StatusForError(apiErr *model.APIError) int {
	switch apiErr.Kind {
	case model.KindUnauthenticated:
		return http.StatusUnauthorized
	case model.KindUnauthorized:
		return http.StatusForbidden
	case model.KindValidation:
		if apiErr.Code == model.ErrCodePatientNotFound {
			return http.StatusNotFound
		}
		if apiErr.StatusCode == 0 {
			// 通信前に検出した入力エラー
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	default:
		if apiErr.Code == model.ErrCodeBackendFailed {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Kind:     model.KindGeneric,
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
