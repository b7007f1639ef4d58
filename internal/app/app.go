// Package app はサブコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cookiejar "github.com/juju/persistent-cookiejar"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/dentalfront/internal/config"
	"github.com/hitoshi/dentalfront/internal/credential"
	"github.com/hitoshi/dentalfront/internal/dashboard"
	"github.com/hitoshi/dentalfront/internal/database"
	"github.com/hitoshi/dentalfront/internal/gateway"
	"github.com/hitoshi/dentalfront/internal/handler"
	"github.com/hitoshi/dentalfront/internal/logger"
	"github.com/hitoshi/dentalfront/internal/metrics"
	"github.com/hitoshi/dentalfront/internal/middleware"
	"github.com/hitoshi/dentalfront/internal/security"
	"github.com/hitoshi/dentalfront/internal/session"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、設定されたレベルでJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("api_base_url", cfg.APIBaseURL),
		slog.String("credential_store", cfg.CredentialStore),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// services はserveモードで組み立てた依存関係。
type services struct {
	handler     http.Handler
	session     *session.Store
	coordinator *dashboard.Coordinator
	jar         *cookiejar.Jar
	rateLimiter *middleware.RateLimiter
	db          *sql.DB
}

// Close はCookieジャーを保存し、保持しているリソースを解放する。
func (s *services) Close() error {
	s.rateLimiter.Stop()

	var errs []error
	if err := s.jar.Save(); err != nil {
		errs = append(errs, fmt.Errorf("failed to save cookie jar: %w", err))
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// buildServices は設定から全依存関係をワイヤリングし、セッションを解決する。
// スタッフのCookieがあればダッシュボードを1回読み込む。読み込みの失敗は起動を妨げない。
func buildServices(ctx context.Context, cfg *config.Config, log *slog.Logger) (*services, error) {
	// 1. 資格情報ストア
	creds, db, err := openCredentialStore(cfg)
	if err != nil {
		return nil, err
	}

	// 2. スタッフ用Cookieジャー
	jar, err := openCookieJar(cfg)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)

	// 4. バックエンドクライアント
	gw, err := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		CookieJar:  jar,
		Tokens:     creds,
		Logger:     log,
		Metrics:    mc,
	})
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	// 5. セッションとダッシュボード
	sess := session.NewStore(gw, creds, log, mc)
	state := sess.Init(ctx)
	log.Info("session resolved", slog.String("state", string(state)))

	coord := dashboard.NewCoordinator(gw, dashboard.Config{
		StaleSelectionLimit: cfg.StaleSelectionLimit,
	}, log, mc)
	if gateway.HasStaffSession(jar, cfg.APIBaseURL) {
		if err := coord.Refresh(ctx); err != nil {
			log.Warn("initial dashboard refresh failed", slog.String("error", err.Error()))
		}
	}

	// 6. ルーター
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HTTPS:             cfg.CookieSecure,
		CSRF:              middleware.CSRFConfig{CookieSecure: cfg.CookieSecure},
		RateLimiter:       rl,
		MetricsHandler:    metrics.Handler(reg),
		Session:           sess,
		Public:            gw,
		Sanitizer:         security.NewContentSanitizer(),
		Patient:           gw,
		Dashboard:         coord,
	})

	return &services{
		handler:     router,
		session:     sess,
		coordinator: coord,
		jar:         jar,
		rateLimiter: rl,
		db:          db,
	}, nil
}

// openCredentialStore は設定に応じた資格情報ストアを開く。postgresの場合はDB接続も返す。
func openCredentialStore(cfg *config.Config) (credential.Store, *sql.DB, error) {
	switch cfg.CredentialStore {
	case config.CredentialStoreMemory:
		return credential.NewMemoryStore(), nil, nil
	case config.CredentialStorePostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return credential.NewPostgresStore(db), db, nil
	default:
		return credential.NewFileStore(cfg.CredentialFile), nil, nil
	}
}

// openCookieJar はCookieジャーを開き、設定されたスタッフCookieを登録して保存する。
func openCookieJar(cfg *config.Config) (*cookiejar.Jar, error) {
	if cfg.CookieJarFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.CookieJarFile), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create cookie jar directory: %w", err)
		}
	}
	jar, err := gateway.NewCookieJar(cfg.CookieJarFile)
	if err != nil {
		return nil, err
	}
	if err := gateway.SeedStaffCookies(jar, cfg.APIBaseURL, cfg.StaffSessionID, cfg.StaffCSRFToken); err != nil {
		return nil, err
	}
	if err := jar.Save(); err != nil {
		return nil, fmt.Errorf("failed to save cookie jar: %w", err)
	}
	return jar, nil
}

// runServe はBFFサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	svc, err := buildServices(context.Background(), cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build services: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Error("failed to release resources", slog.String("error", err.Error()))
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      svc.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("BFF server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down BFF server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("BFF server stopped gracefully")
	return nil
}

// runMigrate は資格情報テーブルのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
