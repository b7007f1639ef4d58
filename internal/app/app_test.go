package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/dentalfront/internal/config"
	"github.com/hitoshi/dentalfront/internal/credential"
	"github.com/hitoshi/dentalfront/internal/gateway"
	"github.com/hitoshi/dentalfront/internal/gateway/gatewaytest"
	"github.com/hitoshi/dentalfront/internal/session"
)

// setTestEnv は.envの無い一時ディレクトリに移動し、設定用の環境変数を初期化する。
func setTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	for _, key := range []string{
		"API_BASE_URL", "HTTP_TIMEOUT", "SERVER_PORT", "CORS_ALLOWED_ORIGIN",
		"CREDENTIAL_STORE", "CREDENTIAL_FILE", "DATABASE_URL", "COOKIE_JAR_FILE",
		"STAFF_SESSION_ID", "STAFF_CSRF_TOKEN", "RATE_LIMIT_GENERAL", "RATE_LIMIT_LOGIN",
		"STALE_SELECTION_LIMIT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	return dir
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	// 設定されたレベルでグローバルロガーが作り直されている
	slog.Default().Info("dropped")
	slog.Default().Warn("init test")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %v, want %q", entry["msg"], "init test")
	}
}

func TestInit_WithInvalidConfig_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("CREDENTIAL_STORE", "postgres")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestRun_MigrateWithoutDatabaseURL_ReturnsError(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate"})
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("err = %v, want DATABASE_URL error", err)
	}
}

func TestRun_Healthcheck(t *testing.T) {
	setTestEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	port := srv.URL[strings.LastIndex(srv.URL, ":")+1:]
	t.Setenv("SERVER_PORT", port)

	if err := Run(io.Discard, []string{"healthcheck"}); err != nil {
		t.Errorf("healthcheck failed: %v", err)
	}

	srv.Close()
	if err := Run(io.Discard, []string{"healthcheck"}); err == nil {
		t.Error("停止したサーバーに対して healthcheck が成功した")
	}
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		APIBaseURL:          backendURL,
		ServerPort:          "0",
		CORSAllowedOrigin:   "http://localhost:5173",
		CredentialStore:     config.CredentialStoreFile,
		CredentialFile:      filepath.Join(dir, "credentials.json"),
		CookieJarFile:       filepath.Join(dir, "jar", "cookies.json"),
		RateLimitGeneral:    120,
		RateLimitLogin:      10,
		StaleSelectionLimit: 3,
		LogLevel:            slog.LevelInfo,
	}
}

func TestBuildServices_AnonymousWithoutCredential(t *testing.T) {
	backend := gatewaytest.New()
	defer backend.Close()

	cfg := testConfig(t, backend.URL())
	svc, err := buildServices(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("buildServices がエラーを返した: %v", err)
	}
	defer svc.Close()

	if svc.session.State() != session.StateAnonymous {
		t.Errorf("State = %s, want anonymous", svc.session.State())
	}
	// スタッフCookieが無いのでダッシュボードは読み込まない
	if backend.Calls("/api/patients/patients/") != 0 {
		t.Error("スタッフCookie無しでダッシュボードが読み込まれた")
	}

	w := httptest.NewRecorder()
	svc.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", w.Code)
	}
}

func TestBuildServices_RestoresSessionFromCredentialFile(t *testing.T) {
	backend := gatewaytest.New()
	defer backend.Close()
	backend.AddPatient("pat1", "Pat", "Lee")

	cfg := testConfig(t, backend.URL())
	token := backend.IssueToken("pat1", time.Now().Add(time.Hour))
	data, _ := json.Marshal(map[string]string{credential.AccessTokenKey: token, credential.RefreshTokenKey: "r"})
	if err := os.WriteFile(cfg.CredentialFile, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	svc, err := buildServices(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("buildServices がエラーを返した: %v", err)
	}
	defer svc.Close()

	if svc.session.State() != session.StateAuthenticated {
		t.Fatalf("State = %s, want authenticated", svc.session.State())
	}
	if svc.session.Identity().Username != "pat1" {
		t.Errorf("Username = %q, want pat1", svc.session.Identity().Username)
	}
}

func TestBuildServices_SeedsAndPersistsStaffCookies(t *testing.T) {
	backend := gatewaytest.New()
	defer backend.Close()
	backend.AddPatient("alice", "Alice", "Smith")

	cfg := testConfig(t, backend.URL())
	cfg.StaffSessionID = gatewaytest.StaffSessionID
	cfg.StaffCSRFToken = gatewaytest.StaffCSRFToken

	svc, err := buildServices(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("buildServices がエラーを返した: %v", err)
	}

	// スタッフCookieがあれば起動時にダッシュボードを読み込む
	if len(svc.coordinator.Snapshot().Patients) != 1 {
		t.Errorf("起動時のダッシュボード読み込みで患者が取得されていない")
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close がエラーを返した: %v", err)
	}

	// 再起動してもジャーのファイルからCookieが復元される
	jar, err := gateway.NewCookieJar(cfg.CookieJarFile)
	if err != nil {
		t.Fatalf("NewCookieJar がエラーを返した: %v", err)
	}
	if !gateway.HasStaffSession(jar, backend.URL()) {
		t.Error("再起動後にスタッフセッションが失われた")
	}
}
