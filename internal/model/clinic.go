// Package model はドメインモデルを定義する。
// バックエンドAPIが返すJSONの形に合わせ、フィールド名はsnake_caseのタグで対応付ける。
package model

// Identity は認証済みユーザーのプロフィール。
// Credentialからバックエンドに問い合わせて毎回導出し、単独では永続化しない。
type Identity struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Patient はバックエンドが所有する患者レコード。
// 埋め込みのユーザー情報と来院履歴（History）を含む。
type Patient struct {
	ID          int            `json:"id"`
	User        Identity       `json:"user"`
	Phone       string         `json:"phone"`
	DateOfBirth *string        `json:"date_of_birth"`
	AddedDate   string         `json:"added_date"`
	History     []HistoryEntry `json:"history"`
}

// HistoryEntry は1回の来院記録。1人の患者に属し、処方を順序付きで持つ。
type HistoryEntry struct {
	ID                int            `json:"id"`
	VisitDate         string         `json:"visit_date"`
	Notes             string         `json:"notes"`
	TreatmentProvided string         `json:"treatment_provided"`
	Prescriptions     []Prescription `json:"prescriptions"`
}

// Prescription は来院記録に紐づく処方。クライアントからは追記のみ。
type Prescription struct {
	ID           int    `json:"id"`
	MedicineName string `json:"medicine_name"`
	Dosage       string `json:"dosage"`
	Instructions string `json:"instructions"`
}

// Appointment は患者が送信した予約リクエスト。
type Appointment struct {
	ID               int               `json:"id"`
	PatientName      string            `json:"patient_name,omitempty"`
	PatientUsername  string            `json:"patient_username,omitempty"`
	ServiceRequested string            `json:"service_requested"`
	AppointmentDate  string            `json:"appointment_date"`
	AppointmentTime  string            `json:"appointment_time"`
	Notes            string            `json:"notes"`
	Status           AppointmentStatus `json:"status"`
}

// Review は公開レビュー。
type Review struct {
	ID          int    `json:"id"`
	PatientName string `json:"patient_name"`
	ReviewText  string `json:"review_text"`
	Rating      int    `json:"rating"`
}

// BlogPost はマーケティング用のブログ記事。
type BlogPost struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	Content   string `json:"content"`
	Excerpt   string `json:"excerpt,omitempty"`
	Image     string `json:"image,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// FaqCategory はFAQのカテゴリと、その配下の質問。
type FaqCategory struct {
	ID    int       `json:"id"`
	Name  string    `json:"name"`
	Items []FaqItem `json:"items"`
}

// FaqItem はFAQの1項目。
type FaqItem struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
