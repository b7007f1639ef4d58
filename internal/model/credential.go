package model

// Credential はログインで得たアクセストークンとリフレッシュトークンの組。
// アクセストークンが空なら未認証として扱う。
type Credential struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Empty はアクセストークンを持たない場合にtrueを返す。
func (c *Credential) Empty() bool {
	return c == nil || c.Access == ""
}

// LoginRequest はトークン発行APIへの入力。
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest はユーザー登録APIへの入力。
type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ReviewInput はレビュー投稿の入力。
type ReviewInput struct {
	Rating     int    `json:"rating"`
	ReviewText string `json:"review_text"`
}

// AppointmentInput は予約作成の入力。日付はYYYY-MM-DD、時刻はHH:MM:SS。
type AppointmentInput struct {
	ServiceRequested string `json:"service_requested"`
	AppointmentDate  string `json:"appointment_date"`
	AppointmentTime  string `json:"appointment_time"`
	Notes            string `json:"notes,omitempty"`
}

// HistoryInput は来院記録作成の入力。
type HistoryInput struct {
	Patient           int    `json:"patient"`
	VisitDate         string `json:"visit_date,omitempty"`
	Notes             string `json:"notes"`
	TreatmentProvided string `json:"treatment_provided"`
}

// PrescriptionInput は処方作成の入力。
type PrescriptionInput struct {
	HistoryEntry int    `json:"history_entry"`
	MedicineName string `json:"medicine_name"`
	Dosage       string `json:"dosage"`
	Instructions string `json:"instructions"`
}

// StatusUpdate は予約ステータス更新の入力。
type StatusUpdate struct {
	Status AppointmentStatus `json:"status"`
}
