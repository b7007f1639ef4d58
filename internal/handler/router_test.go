package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/dentalfront/internal/credential"
	"github.com/hitoshi/dentalfront/internal/dashboard"
	"github.com/hitoshi/dentalfront/internal/gateway"
	"github.com/hitoshi/dentalfront/internal/gateway/gatewaytest"
	"github.com/hitoshi/dentalfront/internal/metrics"
	"github.com/hitoshi/dentalfront/internal/middleware"
	"github.com/hitoshi/dentalfront/internal/model"
	"github.com/hitoshi/dentalfront/internal/session"
)

// testBFF はフェイクバックエンドに繋いだBFFを起動し、CSRFトークンを保持して呼び出す。
type testBFF struct {
	t       *testing.T
	backend *gatewaytest.Backend
	server  *httptest.Server
	client  *http.Client
	csrf    string
}

func newTestBFF(t *testing.T, staff bool) *testBFF {
	t.Helper()
	backend := gatewaytest.New()
	t.Cleanup(backend.Close)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	jar, err := gateway.NewCookieJar("")
	if err != nil {
		t.Fatalf("NewCookieJar がエラーを返した: %v", err)
	}
	if staff {
		if err := gateway.SeedStaffCookies(jar, backend.URL(), gatewaytest.StaffSessionID, gatewaytest.StaffCSRFToken); err != nil {
			t.Fatalf("SeedStaffCookies がエラーを返した: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)

	creds := credential.NewMemoryStore()
	gw, err := gateway.NewClient(gateway.Config{
		BaseURL:   backend.URL(),
		CookieJar: jar,
		Tokens:    creds,
		Logger:    logger,
		Metrics:   mc,
	})
	if err != nil {
		t.Fatalf("NewClient がエラーを返した: %v", err)
	}

	sess := session.NewStore(gw, creds, logger, mc)
	sess.Init(context.Background())
	coord := dashboard.NewCoordinator(gw, dashboard.Config{StaleSelectionLimit: 3}, logger, mc)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: "http://localhost:5173",
		RateLimiter:       rl,
		MetricsHandler:    metrics.Handler(reg),
		Session:           sess,
		Public:            gw,
		Patient:           gw,
		Dashboard:         coord,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	b := &testBFF{t: t, backend: backend, server: server, client: server.Client()}
	b.fetchCSRFToken()
	return b
}

func (b *testBFF) fetchCSRFToken() {
	b.t.Helper()
	resp, err := b.client.Get(b.server.URL + "/api/csrf-token")
	if err != nil {
		b.t.Fatalf("CSRFトークンの取得に失敗: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		b.t.Fatalf("CSRFトークンのデコードに失敗: %v", err)
	}
	b.csrf = body.Token
}

// do はリクエストを送り、ステータスとボディを返す。POSTにはCSRFトークンを付ける。
func (b *testBFF) do(method, path, body string) (int, []byte) {
	b.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, b.server.URL+path, reader)
	if err != nil {
		b.t.Fatalf("リクエストの生成に失敗: %v", err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-CSRF-Token", b.csrf)
		req.AddCookie(&http.Cookie{Name: "dentalfront_csrf", Value: b.csrf})
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s が失敗: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (b *testBFF) dashboard() dashboardView {
	b.t.Helper()
	status, data := b.do(http.MethodGet, "/api/dashboard", "")
	if status != http.StatusOK {
		b.t.Fatalf("GET /api/dashboard status = %d, body = %s", status, data)
	}
	var v dashboardView
	if err := json.Unmarshal(data, &v); err != nil {
		b.t.Fatalf("ダッシュボードのデコードに失敗: %v", err)
	}
	return v
}

type dashboardView struct {
	Patients     []model.Patient     `json:"patients"`
	Appointments []model.Appointment `json:"appointments"`
	Pending      []model.Appointment `json:"pending_appointments"`
	Selected     *model.Patient      `json:"selected_patient"`
	Loading      bool                `json:"loading"`
	Error        *dashboardError     `json:"error"`
}

func TestRouter_Health(t *testing.T) {
	b := newTestBFF(t, false)

	status, data := b.do(http.MethodGet, "/health", "")
	if status != http.StatusOK || !bytes.Contains(data, []byte(`"ok"`)) {
		t.Errorf("status = %d, body = %s", status, data)
	}
}

func TestRouter_PostWithoutCSRFTokenIsRejected(t *testing.T) {
	b := newTestBFF(t, false)

	resp, err := b.client.Post(b.server.URL+"/api/session/login", "application/json",
		strings.NewReader(`{"username":"pat1","password":"pw12345678"}`))
	if err != nil {
		t.Fatalf("POST が失敗: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if b.backend.Calls("/api/token/") != 0 {
		t.Error("CSRF検証前にバックエンドが呼ばれた")
	}
}

func TestRouter_PatientFlow(t *testing.T) {
	b := newTestBFF(t, false)

	status, data := b.do(http.MethodGet, "/api/session", "")
	if status != http.StatusOK || !bytes.Contains(data, []byte(`"anonymous"`)) {
		t.Fatalf("初期状態: status = %d, body = %s", status, data)
	}

	// ログイン前はアクセストークンがないため通信せずに401
	status, _ = b.do(http.MethodGet, "/api/patient/profile", "")
	if status != http.StatusUnauthorized {
		t.Errorf("ログイン前のプロフィール: status = %d, want 401", status)
	}

	status, data = b.do(http.MethodPost, "/api/session/register",
		`{"username":"pat1","password":"pw12345678","email":"p@x.com","first_name":"Pat","last_name":"Lee"}`)
	if status != http.StatusCreated {
		t.Fatalf("登録: status = %d, body = %s", status, data)
	}
	var snap session.Snapshot
	json.Unmarshal(data, &snap)
	if snap.State != session.StateAuthenticated || snap.Identity.Username != "pat1" {
		t.Fatalf("登録後のセッション = %+v", snap)
	}

	status, data = b.do(http.MethodGet, "/api/patient/profile", "")
	if status != http.StatusOK {
		t.Fatalf("プロフィール: status = %d, body = %s", status, data)
	}

	status, data = b.do(http.MethodPost, "/api/patient/appointments",
		`{"service_requested":"Consultation","appointment_date":"2099-01-01","appointment_time":"10:00:00"}`)
	if status != http.StatusCreated || !bytes.Contains(data, []byte(`"PENDING"`)) {
		t.Fatalf("予約: status = %d, body = %s", status, data)
	}

	// 評価が範囲外なら通信しない
	before := b.backend.Calls("/api/reviews/")
	status, _ = b.do(http.MethodPost, "/api/patient/reviews", `{"rating":6,"review_text":"great"}`)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("範囲外の評価: status = %d, want 422", status)
	}
	if b.backend.Calls("/api/reviews/") != before {
		t.Error("範囲外の評価でバックエンドが呼ばれた")
	}

	status, _ = b.do(http.MethodPost, "/api/patient/reviews", `{"rating":5,"review_text":"great"}`)
	if status != http.StatusCreated {
		t.Errorf("レビュー投稿: status = %d, want 201", status)
	}

	status, data = b.do(http.MethodPost, "/api/session/logout", "")
	if status != http.StatusOK || !bytes.Contains(data, []byte(`"anonymous"`)) {
		t.Errorf("ログアウト: status = %d, body = %s", status, data)
	}
}

func TestRouter_RegisterValidationErrors(t *testing.T) {
	b := newTestBFF(t, false)
	b.backend.AddPatient("pat1", "Pat", "Lee")

	status, data := b.do(http.MethodPost, "/api/session/register",
		`{"username":"pat1","password":"short","email":"p@x.com","first_name":"Pat","last_name":"Lee"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", status, data)
	}
	var body middleware.ErrorResponseBody
	json.Unmarshal(data, &body)
	if body.Kind != "validation" || len(body.Messages) != 2 {
		t.Errorf("body = %+v", body)
	}

	_, data = b.do(http.MethodGet, "/api/session", "")
	if !bytes.Contains(data, []byte(`"anonymous"`)) {
		t.Errorf("登録失敗後のセッション = %s", data)
	}
}

func TestRouter_StaffDashboardFlow(t *testing.T) {
	b := newTestBFF(t, true)
	alice := b.backend.AddPatient("alice", "Alice", "Smith")
	appt := b.backend.AddAppointment(model.Appointment{
		PatientName:      "Alice Smith",
		ServiceRequested: "Cleaning",
		AppointmentDate:  "2099-01-01",
		AppointmentTime:  "09:00:00",
	})

	status, data := b.do(http.MethodPost, "/api/dashboard/refresh", "")
	if status != http.StatusOK {
		t.Fatalf("refresh: status = %d, body = %s", status, data)
	}
	view := b.dashboard()
	if len(view.Patients) != 1 || len(view.Pending) != 1 {
		t.Fatalf("patients = %d, pending = %d", len(view.Patients), len(view.Pending))
	}

	status, _ = b.do(http.MethodPost, "/api/dashboard/select/"+strconv.Itoa(alice.ID), "")
	if status != http.StatusOK {
		t.Fatalf("select: status = %d", status)
	}

	status, data = b.do(http.MethodPost, "/api/dashboard/history",
		`{"visit_date":"2099-01-02","notes":"Checkup","treatment_provided":"Polish"}`)
	if status != http.StatusOK {
		t.Fatalf("history: status = %d, body = %s", status, data)
	}
	view = b.dashboard()
	if view.Selected == nil || len(view.Selected.History) != 1 {
		t.Fatalf("選択中の患者に履歴が反映されていない: %+v", view.Selected)
	}

	status, data = b.do(http.MethodPost, "/api/dashboard/appointments/"+strconv.Itoa(appt.ID)+"/confirm", "")
	if status != http.StatusOK {
		t.Fatalf("confirm: status = %d, body = %s", status, data)
	}
	view = b.dashboard()
	if len(view.Pending) != 0 {
		t.Errorf("確定後も保留中に残っている: %+v", view.Pending)
	}
	if got, _ := b.backend.Appointment(appt.ID); got.Status != model.StatusConfirmed {
		t.Errorf("backend status = %s, want CONFIRMED", got.Status)
	}
}

func TestRouter_DashboardWithoutStaffCookie(t *testing.T) {
	b := newTestBFF(t, false)

	status, data := b.do(http.MethodPost, "/api/dashboard/refresh", "")
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body = %s", status, data)
	}

	view := b.dashboard()
	if view.Error == nil || view.Error.Kind != "unauthorized" {
		t.Errorf("error = %+v, want unauthorized", view.Error)
	}
	if view.Error.Message != "Not authorized. Please log in via the /admin panel." {
		t.Errorf("message = %q", view.Error.Message)
	}
}

func TestRouter_BlogPostsAreSanitized(t *testing.T) {
	b := newTestBFF(t, false)
	b.backend.AddBlogPost(model.BlogPost{
		Title:   "Flossing",
		Slug:    "flossing",
		Content: `<p onclick="x()">Daily</p><iframe src="https://evil.example"></iframe>`,
	})

	status, data := b.do(http.MethodGet, "/api/blog/posts", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if bytes.Contains(data, []byte("onclick")) || bytes.Contains(data, []byte("iframe")) {
		t.Errorf("サニタイズされていない: %s", data)
	}
}

func TestRouter_MetricsExposeBackendCalls(t *testing.T) {
	b := newTestBFF(t, false)
	b.do(http.MethodGet, "/api/reviews", "")

	status, data := b.do(http.MethodGet, "/metrics", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !bytes.Contains(data, []byte("dentalfront_backend_requests_total")) {
		t.Errorf("バックエンド呼び出しのメトリクスがない")
	}
}
