package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/dentalfront/internal/dashboard"
	"github.com/hitoshi/dentalfront/internal/middleware"
	"github.com/hitoshi/dentalfront/internal/model"
)

// DashboardService はダッシュボードハンドラーが必要とする操作。dashboard.Coordinatorがこれを満たす。
type DashboardService interface {
	Refresh(ctx context.Context) error
	Select(id int) (*model.Patient, error)
	ConfirmAppointment(ctx context.Context, id int) error
	CancelAppointment(ctx context.Context, id int) error
	AddHistoryEntry(ctx context.Context, in model.HistoryInput) error
	AddPrescription(ctx context.Context, in model.PrescriptionInput) error
	Snapshot() dashboard.Snapshot
}

// DashboardHandler はスタッフ向けダッシュボードのHTTPハンドラー。
type DashboardHandler struct {
	service DashboardService
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(service DashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// dashboardError は直近のリフレッシュ失敗をUIに渡す形式。
type dashboardError struct {
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
	Messages []string `json:"messages,omitempty"`
}

// dashboardResponse はダッシュボードのAPIレスポンス。
type dashboardResponse struct {
	dashboard.Snapshot
	Error *dashboardError `json:"error"`
}

func toDashboardResponse(s dashboard.Snapshot) dashboardResponse {
	resp := dashboardResponse{Snapshot: s}
	if s.Err != nil {
		resp.Error = &dashboardError{
			Kind:    string(model.KindOf(s.Err)),
			Message: s.Err.Error(),
		}
		var apiErr *model.APIError
		if errors.As(s.Err, &apiErr) {
			resp.Error.Message = apiErr.Message
			resp.Error.Messages = apiErr.Messages
		}
	}
	return resp
}

// Get は現在のダッシュボードデータを返す。通信は行わない。
// GET /api/dashboard
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toDashboardResponse(h.service.Snapshot()))
}

// Refresh は患者一覧と予約一覧を取り直す。
// POST /api/dashboard/refresh
func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.service.Refresh(r.Context()))
}

// Select は患者を選択する。通信は行わない。
// POST /api/dashboard/select/{id}
func (h *DashboardHandler) Select(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	_, err := h.service.Select(id)
	h.respond(w, err)
}

// Confirm は予約を確定する。
// POST /api/dashboard/appointments/{id}/confirm
func (h *DashboardHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.respond(w, h.service.ConfirmAppointment(r.Context(), id))
}

// Cancel は予約を取り消す。
// POST /api/dashboard/appointments/{id}/cancel
func (h *DashboardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.respond(w, h.service.CancelAppointment(r.Context(), id))
}

// AddHistoryEntry は選択中の患者に診療履歴を追加する。
// POST /api/dashboard/history
func (h *DashboardHandler) AddHistoryEntry(w http.ResponseWriter, r *http.Request) {
	var in model.HistoryInput
	if !decodeJSON(w, r, &in) {
		return
	}
	h.respond(w, h.service.AddHistoryEntry(r.Context(), in))
}

// AddPrescription は診療履歴に処方を追加する。
// POST /api/dashboard/prescriptions
func (h *DashboardHandler) AddPrescription(w http.ResponseWriter, r *http.Request) {
	var in model.PrescriptionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	h.respond(w, h.service.AddPrescription(r.Context(), in))
}

// respond は操作の結果に応じてエラーか最新のダッシュボードを返す。
func (h *DashboardHandler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardResponse(h.service.Snapshot()))
}
