package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/dentalfront/internal/middleware"
	"github.com/hitoshi/dentalfront/internal/model"
	"github.com/hitoshi/dentalfront/internal/session"
)

// SessionService はセッションハンドラーが必要とする操作。session.Storeがこれを満たす。
type SessionService interface {
	Login(ctx context.Context, username, password string) (*model.Identity, error)
	Register(ctx context.Context, req model.RegisterRequest) (*model.Identity, error)
	Logout(ctx context.Context)
	Snapshot() session.Snapshot
}

// SessionHandler はログイン状態を扱うHTTPハンドラー。
type SessionHandler struct {
	service SessionService
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// Get は現在のセッション状態を返す。
// GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// Login はユーザー名とパスワードでログインする。
// POST /api/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.service.Login(r.Context(), req.Username, req.Password); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// Register はアカウントを登録し、そのままログインする。
// POST /api/session/register
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.service.Register(r.Context(), req); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.service.Snapshot())
}

// Logout はCredentialを破棄する。失敗しない。
// POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context())
	writeJSON(w, http.StatusOK, h.service.Snapshot())
}
