package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/dentalfront/internal/middleware"
	"github.com/hitoshi/dentalfront/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	// HTTPS はHSTSヘッダーを付けるかどうか
	HTTPS             bool
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// /metrics。nilの場合はルートを登録しない
	MetricsHandler http.Handler

	Session   SessionService
	Public    PublicGateway
	Sanitizer security.ContentSanitizer
	Patient   PatientGateway
	Dashboard DashboardService
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → RateLimit(General) → CSRF
//
// ログイン・登録にはさらにログイン用のレート制限がかかる。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewContentSanitizer()
	}

	r := chi.NewRouter()

	// ヘルスチェックとメトリクスはミドルウェアチェーンの外に置く
	r.Get("/health", healthHandler)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	sessionHandler := NewSessionHandler(deps.Session)
	publicHandler := NewPublicHandler(deps.Public, sanitizer)
	patientHandler := NewPatientHandler(deps.Patient)
	dashboardHandler := NewDashboardHandler(deps.Dashboard)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRecoveryMiddleware())
		r.Use(middleware.NewSecurityHeadersMiddleware(deps.HTTPS))
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// 公開コンテンツ
		r.Get("/api/blog/posts", publicHandler.ListBlogPosts)
		r.Get("/api/faq/categories", publicHandler.ListFaqCategories)
		r.Get("/api/reviews", publicHandler.ListReviews)

		// セッション
		r.Route("/api/session", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", sessionHandler.Login)
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/register", sessionHandler.Register)
			r.Post("/logout", sessionHandler.Logout)
		})

		// 患者（アクセストークン）
		r.Route("/api/patient", func(r chi.Router) {
			r.Get("/profile", patientHandler.Profile)
			r.Post("/reviews", patientHandler.SubmitReview)
			r.Post("/appointments", patientHandler.CreateAppointment)
		})

		// スタッフ（Cookie）
		r.Route("/api/dashboard", func(r chi.Router) {
			r.Get("/", dashboardHandler.Get)
			r.Post("/refresh", dashboardHandler.Refresh)
			r.Post("/select/{id}", dashboardHandler.Select)
			r.Post("/appointments/{id}/confirm", dashboardHandler.Confirm)
			r.Post("/appointments/{id}/cancel", dashboardHandler.Cancel)
			r.Post("/history", dashboardHandler.AddHistoryEntry)
			r.Post("/prescriptions", dashboardHandler.AddPrescription)
		})
	})

	return r
}

// healthHandler はプロセスの生存確認に応答する。
// GET /health
func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
