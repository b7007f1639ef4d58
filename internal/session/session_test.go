package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/dentalfront/internal/credential"
	"github.com/hitoshi/dentalfront/internal/model"
)

// --- モック定義 ---

type mockGateway struct {
	issueTokenFn      func(ctx context.Context, username, password string) (*model.Credential, error)
	registerFn        func(ctx context.Context, req model.RegisterRequest) (*model.Identity, error)
	currentIdentityFn func(ctx context.Context) (*model.Identity, error)

	issueTokenCalls      int
	registerCalls        int
	currentIdentityCalls int
}

func (m *mockGateway) IssueToken(ctx context.Context, username, password string) (*model.Credential, error) {
	m.issueTokenCalls++
	if m.issueTokenFn != nil {
		return m.issueTokenFn(ctx, username, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockGateway) Register(ctx context.Context, req model.RegisterRequest) (*model.Identity, error) {
	m.registerCalls++
	if m.registerFn != nil {
		return m.registerFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockGateway) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	m.currentIdentityCalls++
	if m.currentIdentityFn != nil {
		return m.currentIdentityFn(ctx)
	}
	return nil, errors.New("not implemented")
}

type failingStore struct {
	credential.Store
	loadErr  error
	clearErr error
}

func (f *failingStore) Load(ctx context.Context) (*model.Credential, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.Store.Load(ctx)
}

func (f *failingStore) Clear(ctx context.Context) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	return f.Store.Clear(ctx)
}

type transitionRecorder struct {
	states []string
}

func (r *transitionRecorder) RecordBackendCall(string, int) {}
func (r *transitionRecorder) RecordBackendLatency(string, time.Duration) {}
func (r *transitionRecorder) RecordRefresh(bool) {}
func (r *transitionRecorder) RecordSessionTransition(state string) {
	r.states = append(r.states, state)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestStore(gw Gateway, creds credential.Store) (*Store, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewStore(gw, creds, newTestLogger(&buf), nil), &buf
}

var pat1 = &model.Identity{ID: 3, Username: "pat1", Email: "p@x.com", FirstName: "Pat"}

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "pat1",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("トークン生成に失敗: %v", err)
	}
	return token
}

func mustLoad(t *testing.T, store credential.Store) *model.Credential {
	t.Helper()
	cred, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}
	return cred
}

// --- 初期化 ---

func TestNewStore_StartsResolving(t *testing.T) {
	s, _ := newTestStore(&mockGateway{}, credential.NewMemoryStore())
	if s.State() != StateResolving {
		t.Errorf("State = %s, want %s", s.State(), StateResolving)
	}
	if s.Identity() != nil {
		t.Error("Resolving状態でIdentityがnilでない")
	}
}

func TestInit_NoCredential_AnonymousWithoutLookup(t *testing.T) {
	gw := &mockGateway{}
	s, _ := newTestStore(gw, credential.NewMemoryStore())

	if got := s.Init(context.Background()); got != StateAnonymous {
		t.Errorf("Init = %s, want %s", got, StateAnonymous)
	}
	if gw.currentIdentityCalls != 0 {
		t.Errorf("CurrentIdentity 呼び出し回数 = %d, want 0", gw.currentIdentityCalls)
	}
}

func TestInit_ValidCredential_Authenticated(t *testing.T) {
	creds := credential.NewMemoryStore()
	creds.Save(context.Background(), model.Credential{Access: "opaque-access", Refresh: "opaque-refresh"})
	gw := &mockGateway{
		currentIdentityFn: func(ctx context.Context) (*model.Identity, error) {
			return pat1, nil
		},
	}
	s, _ := newTestStore(gw, creds)

	if got := s.Init(context.Background()); got != StateAuthenticated {
		t.Fatalf("Init = %s, want %s", got, StateAuthenticated)
	}
	if id := s.Identity(); id == nil || id.Username != "pat1" {
		t.Errorf("Identity = %+v, want pat1", id)
	}
}

func TestInit_IdentityLookupFails_ClearsCredential(t *testing.T) {
	creds := credential.NewMemoryStore()
	creds.Save(context.Background(), model.Credential{Access: "revoked", Refresh: "r"})
	gw := &mockGateway{
		currentIdentityFn: func(ctx context.Context) (*model.Identity, error) {
			return nil, model.NewUnauthorizedError("Authorization failed. Please log in again.", http.StatusUnauthorized, nil)
		},
	}
	s, _ := newTestStore(gw, creds)

	if got := s.Init(context.Background()); got != StateAnonymous {
		t.Errorf("Init = %s, want %s", got, StateAnonymous)
	}
	if cred := mustLoad(t, creds); cred != nil {
		t.Errorf("Credential が削除されていない: %+v", cred)
	}
}

func TestInit_ExpiredAccessToken_ClearsWithoutLookup(t *testing.T) {
	creds := credential.NewMemoryStore()
	creds.Save(context.Background(), model.Credential{
		Access:  signedToken(t, time.Now().Add(-time.Hour)),
		Refresh: "r",
	})
	gw := &mockGateway{}
	s, _ := newTestStore(gw, creds)

	if got := s.Init(context.Background()); got != StateAnonymous {
		t.Errorf("Init = %s, want %s", got, StateAnonymous)
	}
	if gw.currentIdentityCalls != 0 {
		t.Errorf("CurrentIdentity 呼び出し回数 = %d, want 0", gw.currentIdentityCalls)
	}
	if cred := mustLoad(t, creds); cred != nil {
		t.Errorf("期限切れ Credential が削除されていない: %+v", cred)
	}
}

func TestInit_LoadError_Anonymous(t *testing.T) {
	creds := &failingStore{Store: credential.NewMemoryStore(), loadErr: errors.New("disk error")}
	gw := &mockGateway{}
	s, buf := newTestStore(gw, creds)

	if got := s.Init(context.Background()); got != StateAnonymous {
		t.Errorf("Init = %s, want %s", got, StateAnonymous)
	}
	if !bytes.Contains(buf.Bytes(), []byte("failed to load credential")) {
		t.Errorf("読み込み失敗がログに出ていない: %s", buf.String())
	}
}

// --- ログイン ---

func TestLogin_Success_PersistsBothTokens(t *testing.T) {
	creds := credential.NewMemoryStore()
	gw := &mockGateway{
		issueTokenFn: func(ctx context.Context, username, password string) (*model.Credential, error) {
			if username != "pat1" || password != "pw12345678" {
				t.Errorf("IssueToken(%q, %q)", username, password)
			}
			return &model.Credential{Access: "a", Refresh: "r"}, nil
		},
		currentIdentityFn: func(ctx context.Context) (*model.Identity, error) {
			// 保存済みのトークンで問い合わせる
			if cred := mustLoad(t, creds); cred == nil || cred.Access != "a" {
				t.Errorf("Identity 解決時に Credential が保存されていない: %+v", cred)
			}
			return pat1, nil
		},
	}
	s, _ := newTestStore(gw, creds)
	s.Init(context.Background())

	identity, err := s.Login(context.Background(), "pat1", "pw12345678")
	if err != nil {
		t.Fatalf("Login がエラーを返した: %v", err)
	}
	if identity.Username != "pat1" {
		t.Errorf("Username = %q, want pat1", identity.Username)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("State = %s, want %s", s.State(), StateAuthenticated)
	}
	cred := mustLoad(t, creds)
	if cred == nil || cred.Access != "a" || cred.Refresh != "r" {
		t.Errorf("保存された Credential = %+v, want {a r}", cred)
	}
}

func TestLogin_InvalidCredentials_StaysAnonymousAndPersistsNothing(t *testing.T) {
	creds := credential.NewMemoryStore()
	gw := &mockGateway{
		issueTokenFn: func(ctx context.Context, username, password string) (*model.Credential, error) {
			return nil, model.NewUnauthorizedError("Not authorized.", http.StatusUnauthorized,
				[]string{"No active account found with the given credentials"})
		},
	}
	s, _ := newTestStore(gw, creds)
	s.Init(context.Background())

	_, err := s.Login(context.Background(), "pat1", "wrong")
	if !model.IsUnauthorized(err) {
		t.Errorf("err = %v, want unauthorized", err)
	}
	if s.State() != StateAnonymous {
		t.Errorf("State = %s, want %s", s.State(), StateAnonymous)
	}
	if cred := mustLoad(t, creds); cred != nil {
		t.Errorf("失敗時に Credential が保存された: %+v", cred)
	}
	if gw.currentIdentityCalls != 0 {
		t.Errorf("CurrentIdentity 呼び出し回数 = %d, want 0", gw.currentIdentityCalls)
	}
}

func TestLogin_IdentityLookupFails_ClearsCredential(t *testing.T) {
	creds := credential.NewMemoryStore()
	gw := &mockGateway{
		issueTokenFn: func(ctx context.Context, username, password string) (*model.Credential, error) {
			return &model.Credential{Access: "a", Refresh: "r"}, nil
		},
		currentIdentityFn: func(ctx context.Context) (*model.Identity, error) {
			return nil, model.NewBackendError("Failed to fetch user details", http.StatusInternalServerError, nil)
		},
	}
	s, _ := newTestStore(gw, creds)
	s.Init(context.Background())

	if _, err := s.Login(context.Background(), "pat1", "pw12345678"); err == nil {
		t.Fatal("Login はエラーを返すべき")
	}
	if s.State() != StateAnonymous {
		t.Errorf("State = %s, want %s", s.State(), StateAnonymous)
	}
	if cred := mustLoad(t, creds); cred != nil {
		t.Errorf("Credential が削除されていない: %+v", cred)
	}
}

func TestIdentity_ReturnsCopy(t *testing.T) {
	creds := credential.NewMemoryStore()
	gw := &mockGateway{
		issueTokenFn: func(ctx context.Context, username, password string) (*model.Credential, error) {
			return &model.Credential{Access: "a"}, nil
		},
		currentIdentityFn: func(ctx context.Context) (*model.Identity, error) {
			return pat1, nil
		},
	}
	s, _ := newTestStore(gw, creds)

	identity, _ := s.Login(context.Background(), "pat1", "pw12345678")
	identity.Username = "changed"

	if got := s.Identity().Username; got != "pat1" {
		t.Errorf("内部の Identity が書き換えられた: %q", got)
	}
	if pat1.Username != "pat1" {
		t.Errorf("ゲートウェイの戻り値が書き換えられた: %q", pat1.Username)
	}
}

// --- 登録 ---

func TestRegister_AutoLogin(t *testing.T) {
	creds := credential.NewMemoryStore()
	var issued []string
	gw := &mockGateway{
		registerFn: func(ctx context.Context, req model.RegisterRequest) (*model.Identity, error) {
			return &model.Identity{Username: req.Username}, nil
		},
		issueTokenFn: func(ctx context.Context, username, password string) (*model.Credential, error) {
			issued = append(issued, username+"/"+password)
			return &model.Credential{Access: "a", Refresh: "r"}, nil
		},
		currentIdentityFn: func(ctx context.Context) (*model.Identity, error) {
			return pat1, nil
		},
	}
	s, _ := newTestStore(gw, creds)
	s.Init(context.Background())

	identity, err := s.Register(context.Background(), model.RegisterRequest{
		Username: "pat1", Password: "pw12345678", Email: "p@x.com", FirstName: "Pat",
	})
	if err != nil {
		t.Fatalf("Register がエラーを返した: %v", err)
	}
	if identity.Username != "pat1" {
		t.Errorf("Username = %q, want pat1", identity.Username)
	}
	if len(issued) != 1 || issued[0] != "pat1/pw12345678" {
		t.Errorf("IssueToken 呼び出し = %v", issued)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("State = %s, want %s", s.State(), StateAuthenticated)
	}
}

func TestRegister_Failure_SkipsLogin(t *testing.T) {
	gw := &mockGateway{
		registerFn: func(ctx context.Context, req model.RegisterRequest) (*model.Identity, error) {
			return nil, model.NewValidationError([]string{"A user with that username already exists."}, http.StatusBadRequest)
		},
	}
	s, _ := newTestStore(gw, credential.NewMemoryStore())
	s.Init(context.Background())

	_, err := s.Register(context.Background(), model.RegisterRequest{Username: "pat1", Password: "pw12345678"})
	if model.KindOf(err) != model.KindValidation {
		t.Errorf("Kind = %s, want validation", model.KindOf(err))
	}
	if gw.issueTokenCalls != 0 {
		t.Errorf("IssueToken 呼び出し回数 = %d, want 0", gw.issueTokenCalls)
	}
	if s.State() != StateAnonymous {
		t.Errorf("State = %s, want %s", s.State(), StateAnonymous)
	}
}

// --- ログアウト ---

func TestLogout_ClearsBothTokens(t *testing.T) {
	creds := credential.NewMemoryStore()
	creds.Save(context.Background(), model.Credential{Access: "a", Refresh: "r"})
	gw := &mockGateway{
		currentIdentityFn: func(ctx context.Context) (*model.Identity, error) {
			return pat1, nil
		},
	}
	s, _ := newTestStore(gw, creds)
	s.Init(context.Background())

	s.Logout(context.Background())

	if s.State() != StateAnonymous {
		t.Errorf("State = %s, want %s", s.State(), StateAnonymous)
	}
	if s.Identity() != nil {
		t.Error("ログアウト後に Identity が残っている")
	}
	if cred := mustLoad(t, creds); cred != nil {
		t.Errorf("Credential が削除されていない: %+v", cred)
	}
}

func TestLogout_FromAnyState(t *testing.T) {
	s, _ := newTestStore(&mockGateway{}, credential.NewMemoryStore())

	// Resolving から
	s.Logout(context.Background())
	if s.State() != StateAnonymous {
		t.Errorf("State = %s, want %s", s.State(), StateAnonymous)
	}
	// Anonymous から
	s.Logout(context.Background())
	if s.State() != StateAnonymous {
		t.Errorf("State = %s, want %s", s.State(), StateAnonymous)
	}
}

func TestLogout_ClearFailureStillAnonymous(t *testing.T) {
	inner := credential.NewMemoryStore()
	inner.Save(context.Background(), model.Credential{Access: "a", Refresh: "r"})
	creds := &failingStore{Store: inner, clearErr: errors.New("read-only file system")}
	gw := &mockGateway{
		currentIdentityFn: func(ctx context.Context) (*model.Identity, error) {
			return pat1, nil
		},
	}
	s, buf := newTestStore(gw, creds)
	s.Init(context.Background())

	s.Logout(context.Background())

	if s.State() != StateAnonymous {
		t.Errorf("State = %s, want %s", s.State(), StateAnonymous)
	}
	if !bytes.Contains(buf.Bytes(), []byte("failed to clear credential")) {
		t.Errorf("削除失敗がログに出ていない: %s", buf.String())
	}
}

// --- メトリクス ---

func TestStore_RecordsTransitions(t *testing.T) {
	rec := &transitionRecorder{}
	gw := &mockGateway{
		issueTokenFn: func(ctx context.Context, username, password string) (*model.Credential, error) {
			return &model.Credential{Access: "a"}, nil
		},
		currentIdentityFn: func(ctx context.Context) (*model.Identity, error) {
			return pat1, nil
		},
	}
	var buf bytes.Buffer
	s := NewStore(gw, credential.NewMemoryStore(), newTestLogger(&buf), rec)

	s.Init(context.Background())
	s.Login(context.Background(), "pat1", "pw12345678")
	s.Logout(context.Background())
	s.Logout(context.Background())

	want := []string{"anonymous", "authenticated", "anonymous"}
	if len(rec.states) != len(want) {
		t.Fatalf("遷移 = %v, want %v", rec.states, want)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Errorf("遷移[%d] = %s, want %s", i, rec.states[i], want[i])
		}
	}
}

func TestSnapshot_AuthenticatedAlwaysHasIdentity(t *testing.T) {
	gw := &mockGateway{
		issueTokenFn: func(ctx context.Context, username, password string) (*model.Credential, error) {
			return &model.Credential{Access: "a"}, nil
		},
		currentIdentityFn: func(ctx context.Context) (*model.Identity, error) {
			return pat1, nil
		},
	}
	s, _ := newTestStore(gw, credential.NewMemoryStore())
	s.Login(context.Background(), "pat1", "pw12345678")

	snap := s.Snapshot()
	if snap.State != StateAuthenticated || snap.Identity == nil {
		t.Errorf("Snapshot = %+v", snap)
	}
}
