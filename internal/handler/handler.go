// Package handler はBFFのHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/dentalfront/internal/middleware"
	"github.com/hitoshi/dentalfront/internal/model"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをデコードする。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return false
	}
	return true
}

// pathID はURLパラメータの数値IDを取り出す。失敗した場合は400を書き込みfalseを返す。
func pathID(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, key))
	if err != nil || id <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Kind:     model.KindValidation,
			Code:     "INVALID_ID",
			Message:  "IDが不正です。",
			Category: "validation",
			Action:   "正の整数のIDを指定してください。",
		})
		return 0, false
	}
	return id, true
}

func invalidRequestError() *model.APIError {
	return &model.APIError{
		Kind:     model.KindValidation,
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}
