package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/dentalfront/internal/middleware"
	"github.com/hitoshi/dentalfront/internal/model"
)

// PatientGateway はログイン中の患者が行う操作。いずれもアクセストークンが必要。
type PatientGateway interface {
	MyProfile(ctx context.Context) (*model.Patient, error)
	SubmitReview(ctx context.Context, in model.ReviewInput) (*model.Review, error)
	CreateAppointment(ctx context.Context, in model.AppointmentInput) (*model.Appointment, error)
}

// PatientHandler は患者向け画面のHTTPハンドラー。
type PatientHandler struct {
	gw PatientGateway
}

// NewPatientHandler はPatientHandlerを生成する。
func NewPatientHandler(gw PatientGateway) *PatientHandler {
	return &PatientHandler{gw: gw}
}

// Profile は自分の患者情報を返す。
// GET /api/patient/profile
func (h *PatientHandler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.gw.MyProfile(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// SubmitReview はレビューを投稿する。
// POST /api/patient/reviews
func (h *PatientHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	var in model.ReviewInput
	if !decodeJSON(w, r, &in) {
		return
	}

	review, err := h.gw.SubmitReview(r.Context(), in)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

// CreateAppointment は予約を申し込む。作成された予約はPENDINGになる。
// POST /api/patient/appointments
func (h *PatientHandler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var in model.AppointmentInput
	if !decodeJSON(w, r, &in) {
		return
	}

	appt, err := h.gw.CreateAppointment(r.Context(), in)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}
