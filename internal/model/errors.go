package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind はエラーの分類。UI側はこの値で分岐する。
type ErrorKind string

const (
	// KindUnauthenticated は資格情報が必要なのに存在しないことを示す。通信は行われていない。
	KindUnauthenticated ErrorKind = "unauthenticated"
	// KindUnauthorized はバックエンドが401/403を返したことを示す。
	KindUnauthorized ErrorKind = "unauthorized"
	// KindValidation は入力エラー（バックエンドのフィールドエラーを含む）を示す。
	KindValidation ErrorKind = "validation"
	// KindGeneric はその他の失敗を示す。
	KindGeneric ErrorKind = "generic"
)

// APIError は統一エラーフォーマットを表す。
// Messagesにバックエンドが返した個々のメッセージを保持し、Messageはそれらを1行に平坦化したもの。
type APIError struct {
	Kind       ErrorKind
	Code       string   // エラーコード
	Message    string   // 画面に表示するメッセージ
	Messages   []string // 平坦化前のメッセージ
	Category   string   // カテゴリ: auth, validation, backend, system
	Action     string   // ユーザー向け対処方法
	StatusCode int      // バックエンドのHTTPステータス。通信前の失敗では0
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeValidation        = "VALIDATION_FAILED"
	ErrCodeBackendFailed     = "BACKEND_FAILED"
	ErrCodeNoPatientSelected = "NO_PATIENT_SELECTED"
	ErrCodePatientNotFound   = "PATIENT_NOT_FOUND"
	ErrCodeInvalidStatus     = "INVALID_STATUS"
	ErrCodeInvalidRating     = "INVALID_RATING"
)

// NewUnauthenticatedError はアクセストークン未保持エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeUnauthenticated,
		Message:  "No access token found. Please log in.",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUnauthorizedError はバックエンドの401/403を表すエラーを生成する。
// messageは認可モードごとの固定文言。detailsにはバックエンドの説明を残す。
func NewUnauthorizedError(message string, statusCode int, details []string) *APIError {
	return &APIError{
		Kind:       KindUnauthorized,
		Code:       ErrCodeUnauthorized,
		Message:    message,
		Messages:   details,
		Category:   "auth",
		Action:     "ログインし直してください。",
		StatusCode: statusCode,
	}
}

// NewValidationError はフィールドエラーを平坦化したエラーを生成する。
func NewValidationError(messages []string, statusCode int) *APIError {
	return &APIError{
		Kind:       KindValidation,
		Code:       ErrCodeValidation,
		Message:    strings.Join(messages, " "),
		Messages:   messages,
		Category:   "validation",
		Action:     "入力内容を確認してください。",
		StatusCode: statusCode,
	}
}

// NewBackendError はその他の失敗を表すエラーを生成する。
// messagesが空の場合はfallbackを表示メッセージにする。
func NewBackendError(fallback string, statusCode int, messages []string) *APIError {
	msg := fallback
	if len(messages) > 0 {
		msg = strings.Join(messages, " ")
	}
	return &APIError{
		Kind:       KindGeneric,
		Code:       ErrCodeBackendFailed,
		Message:    msg,
		Messages:   messages,
		Category:   "backend",
		Action:     "しばらく待ってから再度お試しください。",
		StatusCode: statusCode,
	}
}

// NewNoPatientSelectedError は患者未選択エラーを生成する。
func NewNoPatientSelectedError() *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeNoPatientSelected,
		Message:  "No patient selected.",
		Category: "validation",
		Action:   "患者一覧から患者を選択してください。",
	}
}

// NewPatientNotFoundError は一覧に存在しない患者を選択しようとした場合のエラーを生成する。
func NewPatientNotFoundError(id int) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodePatientNotFound,
		Message:  fmt.Sprintf("Patient %d is not in the current list.", id),
		Category: "validation",
		Action:   "データを再読み込みしてから選択してください。",
	}
}

// NewInvalidStatusError は定義外の予約ステータスのエラーを生成する。
func NewInvalidStatusError(status AppointmentStatus) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("Invalid appointment status: %q", status),
		Category: "validation",
		Action:   "PENDING、CONFIRMED、CANCELLED、COMPLETEDのいずれかを指定してください。",
	}
}

// NewInvalidRatingError は評価値が範囲外の場合のエラーを生成する。
func NewInvalidRatingError(rating int) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidRating,
		Message:  "Please select a star rating.",
		Messages: []string{fmt.Sprintf("rating must be between 1 and 5, got %d", rating)},
		Category: "validation",
		Action:   "1から5の評価を選択してください。",
	}
}

// KindOf はエラーの分類を返す。APIError以外はKindGenericとして扱う。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindGeneric
}

// IsUnauthorized はバックエンドが401/403を返したエラーかどうかを返す。
func IsUnauthorized(err error) bool {
	return err != nil && KindOf(err) == KindUnauthorized
}

// IsUnauthenticated は資格情報未保持のエラーかどうかを返す。
func IsUnauthenticated(err error) bool {
	return err != nil && KindOf(err) == KindUnauthenticated
}
