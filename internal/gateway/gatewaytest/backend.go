// Package gatewaytest はgatewayパッケージを使うテスト向けに、
// バックエンドAPIを模したインメモリのHTTPサーバーを提供する。
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/dentalfront/internal/model"
)

// スタッフとしてログイン済みとみなすCookie値
const (
	StaffSessionID = "staff-session"
	StaffCSRFToken = "staff-csrf"
)

type account struct {
	identity  model.Identity
	password  string
	patientID int
}

type failure struct {
	status int
	body   string
}

type ctxKey struct{}

// Backend はバックエンドAPIのフェイク。
type Backend struct {
	Server *httptest.Server

	mu           sync.Mutex
	secret       []byte
	accounts     map[string]*account
	patients     []model.Patient
	appointments []model.Appointment
	reviews      []model.Review
	posts        []model.BlogPost
	faq          []model.FaqCategory
	failures     map[string]failure
	calls        map[string]int
	nextID       int
	tokenTTL     time.Duration
}

// New はフェイクバックエンドを起動する。呼び出し元はCloseを呼ぶこと。
func New() *Backend {
	b := &Backend{
		secret:   []byte("gatewaytest-secret"),
		accounts: make(map[string]*account),
		failures: make(map[string]failure),
		calls:    make(map[string]int),
		nextID:   1,
		tokenTTL: 5 * time.Minute,
	}
	b.Server = httptest.NewServer(b.routes())
	return b
}

// URL はサーバーのベースURLを返す。
func (b *Backend) URL() string {
	return b.Server.URL
}

// Close はサーバーを停止する。
func (b *Backend) Close() {
	b.Server.Close()
}

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(b.record)

	r.Get("/api/blog/posts/", b.handleListPosts)
	r.Get("/api/faq/categories/", b.handleListFaq)
	r.Get("/api/reviews/", b.handleListReviews)
	r.Post("/api/token/", b.handleToken)
	r.Post("/api/users/register/", b.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(b.requireBearer)
		r.Post("/api/reviews/", b.handleCreateReview)
		r.Get("/api/users/me/", b.handleUser)
		r.Get("/api/patients/me/", b.handleMyProfile)
		r.Post("/api/patients/appointments/", b.handleCreateAppointment)
	})

	r.Group(func(r chi.Router) {
		r.Use(b.requireStaff)
		r.Get("/api/patients/patients/", b.handleListPatients)
		r.Post("/api/patients/history/", b.handleCreateHistory)
		r.Post("/api/patients/prescriptions/", b.handleCreatePrescription)
		r.Get("/api/patients/appointments/", b.handleListAppointments)
		r.Patch("/api/patients/appointments/{id}/", b.handleUpdateAppointment)
	})
	return r
}

// --- テストからの操作 ---

// SetFailure は指定パスへの以降のリクエストに、statusとbodyを返させる。
func (b *Backend) SetFailure(path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[path] = failure{status: status, body: body}
}

// ClearFailure はSetFailureを解除する。
func (b *Backend) ClearFailure(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, path)
}

// Calls は指定パスへのリクエスト回数を返す。
func (b *Backend) Calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

// TotalCalls は全リクエスト回数を返す。
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// SetTokenTTL は発行するアクセストークンの有効期間を変更する。
func (b *Backend) SetTokenTTL(ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenTTL = ttl
}

// AddPatient はユーザーと患者を作成する。パスワードは"password123"。
func (b *Backend) AddPatient(username, firstName, lastName string) model.Patient {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc := b.createAccountLocked(model.RegisterRequest{
		Username:  username,
		Password:  "password123",
		Email:     username + "@example.com",
		FirstName: firstName,
		LastName:  lastName,
	})
	return b.patientLocked(acc.patientID)
}

// AddAppointment は予約を追加する。IDは自動採番する。
func (b *Backend) AddAppointment(a model.Appointment) model.Appointment {
	b.mu.Lock()
	defer b.mu.Unlock()
	a.ID = b.allocIDLocked()
	if a.Status == "" {
		a.Status = model.StatusPending
	}
	b.appointments = append(b.appointments, a)
	return a
}

// AddBlogPost はブログ記事を追加する。
func (b *Backend) AddBlogPost(p model.BlogPost) model.BlogPost {
	b.mu.Lock()
	defer b.mu.Unlock()
	p.ID = b.allocIDLocked()
	b.posts = append(b.posts, p)
	return p
}

// AddFaqCategory はFAQカテゴリを追加する。
func (b *Backend) AddFaqCategory(c model.FaqCategory) model.FaqCategory {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.ID = b.allocIDLocked()
	b.faq = append(b.faq, c)
	return c
}

// UpdatePatient は患者データを書き換える。
func (b *Backend) UpdatePatient(id int, fn func(p *model.Patient)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.patients {
		if b.patients[i].ID == id {
			fn(&b.patients[i])
			return
		}
	}
}

// RemovePatient は患者を一覧から削除する。
func (b *Backend) RemovePatient(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.patients[:0]
	for _, p := range b.patients {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	b.patients = kept
}

// Appointment はIDで予約を返す。
func (b *Backend) Appointment(id int) (model.Appointment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.appointments {
		if a.ID == id {
			return a, true
		}
	}
	return model.Appointment{}, false
}

// IssueToken はusername向けに指定した有効期限のアクセストークンを発行する。
func (b *Backend) IssueToken(username string, expiresAt time.Time) string {
	token, err := b.sign(username, expiresAt)
	if err != nil {
		panic(err)
	}
	return token
}

// --- ミドルウェア ---

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[r.URL.Path]++
		f, failing := b.failures[r.URL.Path]
		b.mu.Unlock()

		if failing {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Authentication credentials were not provided.",
			})
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return b.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		b.mu.Lock()
		acc, exists := b.accounts[claims.Subject]
		b.mu.Unlock()
		if !exists {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "User not found"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, acc)))
	})
}

func (b *Backend) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := r.Cookie("sessionid")
		if err != nil || session.Value != StaffSessionID {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"detail": "Authentication credentials were not provided.",
			})
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			csrf, err := r.Cookie("csrftoken")
			if err != nil || r.Header.Get("X-CSRFToken") != csrf.Value {
				writeJSON(w, http.StatusForbidden, map[string]string{
					"detail": "CSRF Failed: CSRF token missing.",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// --- 公開API ---

func (b *Backend) handleListPosts(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(b.posts))
}

func (b *Backend) handleListFaq(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(b.faq))
}

func (b *Backend) handleListReviews(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(b.reviews))
}

func (b *Backend) handleToken(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}
	b.mu.Lock()
	acc, ok := b.accounts[req.Username]
	ttl := b.tokenTTL
	b.mu.Unlock()
	if !ok || acc.password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "No active account found with the given credentials",
		})
		return
	}
	access, err := b.sign(req.Username, time.Now().Add(ttl))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	refresh, err := b.sign(req.Username, time.Now().Add(24*time.Hour))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, model.Credential{Access: access, Refresh: refresh})
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// キー順を固定するため、順序付きでJSONを組み立てる
	var fieldErrors []string
	if req.Username == "" {
		fieldErrors = append(fieldErrors, `"username":["This field may not be blank."]`)
	} else if _, exists := b.accounts[req.Username]; exists {
		fieldErrors = append(fieldErrors, `"username":["A user with that username already exists."]`)
	}
	if len(req.Password) < 8 {
		fieldErrors = append(fieldErrors, `"password":["Ensure this field has at least 8 characters."]`)
	}
	if len(fieldErrors) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("{" + strings.Join(fieldErrors, ",") + "}"))
		return
	}

	acc := b.createAccountLocked(req)
	writeJSON(w, http.StatusCreated, model.Identity{
		Username:  acc.identity.Username,
		Email:     acc.identity.Email,
		FirstName: acc.identity.FirstName,
		LastName:  acc.identity.LastName,
	})
}

// --- 患者API ---

func (b *Backend) handleUser(w http.ResponseWriter, r *http.Request) {
	acc := r.Context().Value(ctxKey{}).(*account)
	writeJSON(w, http.StatusOK, acc.identity)
}

func (b *Backend) handleMyProfile(w http.ResponseWriter, r *http.Request) {
	acc := r.Context().Value(ctxKey{}).(*account)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.patients {
		if p.ID == acc.patientID {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
}

func (b *Backend) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	acc := r.Context().Value(ctxKey{}).(*account)
	var in model.ReviewInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	review := model.Review{
		ID:          b.allocIDLocked(),
		PatientName: displayName(acc.identity),
		ReviewText:  in.ReviewText,
		Rating:      in.Rating,
	}
	b.reviews = append(b.reviews, review)
	writeJSON(w, http.StatusCreated, review)
}

func (b *Backend) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	acc := r.Context().Value(ctxKey{}).(*account)
	var in model.AppointmentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}
	if in.ServiceRequested == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"service_requested": {"This field may not be blank."},
		})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	appt := model.Appointment{
		ID:               b.allocIDLocked(),
		PatientName:      displayName(acc.identity),
		PatientUsername:  acc.identity.Username,
		ServiceRequested: in.ServiceRequested,
		AppointmentDate:  in.AppointmentDate,
		AppointmentTime:  in.AppointmentTime,
		Notes:            in.Notes,
		Status:           model.StatusPending,
	}
	b.appointments = append(b.appointments, appt)
	writeJSON(w, http.StatusCreated, appt)
}

// --- スタッフAPI ---

func (b *Backend) handleListPatients(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(b.patients))
}

func (b *Backend) handleListAppointments(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(b.appointments))
}

func (b *Backend) handleCreateHistory(w http.ResponseWriter, r *http.Request) {
	var in model.HistoryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}
	if in.TreatmentProvided == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"treatment_provided": {"This field may not be blank."},
		})
		return
	}
	if in.VisitDate == "" {
		in.VisitDate = time.Now().Format("2006-01-02")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.patients {
		if b.patients[i].ID == in.Patient {
			b.patients[i].History = append(b.patients[i].History, model.HistoryEntry{
				ID:                b.allocIDLocked(),
				VisitDate:         in.VisitDate,
				Notes:             in.Notes,
				TreatmentProvided: in.TreatmentProvided,
				Prescriptions:     []model.Prescription{},
			})
			writeJSON(w, http.StatusCreated, in)
			return
		}
	}
	writeJSON(w, http.StatusBadRequest, map[string][]string{
		"patient": {fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", in.Patient)},
	})
}

func (b *Backend) handleCreatePrescription(w http.ResponseWriter, r *http.Request) {
	var in model.PrescriptionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.patients {
		for j := range b.patients[i].History {
			entry := &b.patients[i].History[j]
			if entry.ID == in.HistoryEntry {
				entry.Prescriptions = append(entry.Prescriptions, model.Prescription{
					ID:           b.allocIDLocked(),
					MedicineName: in.MedicineName,
					Dosage:       in.Dosage,
					Instructions: in.Instructions,
				})
				writeJSON(w, http.StatusCreated, in)
				return
			}
		}
	}
	writeJSON(w, http.StatusBadRequest, map[string][]string{
		"history_entry": {fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", in.HistoryEntry)},
	})
}

func (b *Backend) handleUpdateAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	var in model.StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}
	if !in.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"status": {fmt.Sprintf("%q is not a valid choice.", in.Status)},
		})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.appointments {
		if b.appointments[i].ID == id {
			b.appointments[i].Status = in.Status
			writeJSON(w, http.StatusOK, b.appointments[i])
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
}

// --- 内部処理 ---

func (b *Backend) createAccountLocked(req model.RegisterRequest) *account {
	userID := b.allocIDLocked()
	patientID := b.allocIDLocked()
	identity := model.Identity{
		ID:        userID,
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	acc := &account{identity: identity, password: req.Password, patientID: patientID}
	b.accounts[req.Username] = acc
	b.patients = append(b.patients, model.Patient{
		ID:        patientID,
		User:      identity,
		AddedDate: time.Now().UTC().Format(time.RFC3339),
		History:   []model.HistoryEntry{},
	})
	return acc
}

func (b *Backend) patientLocked(id int) model.Patient {
	for _, p := range b.patients {
		if p.ID == id {
			return p
		}
	}
	return model.Patient{}
}

func (b *Backend) allocIDLocked() int {
	id := b.nextID
	b.nextID++
	return id
}

func (b *Backend) sign(username string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

func displayName(id model.Identity) string {
	name := strings.TrimSpace(id.FirstName + " " + id.LastName)
	if name == "" {
		return id.Username
	}
	return name
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
