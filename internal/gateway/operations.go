package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/dentalfront/internal/model"
)

var (
	opListBlogPosts = operation{
		name: "list_blog_posts", method: http.MethodGet, path: "/api/blog/posts/",
		auth: AuthNone, failure: "Failed to fetch blog posts",
	}
	opListFaqCategories = operation{
		name: "list_faq_categories", method: http.MethodGet, path: "/api/faq/categories/",
		auth: AuthNone, failure: "Failed to fetch FAQ categories",
	}
	opListReviews = operation{
		name: "list_reviews", method: http.MethodGet, path: "/api/reviews/",
		auth: AuthNone, failure: "Failed to fetch reviews",
	}
	opSubmitReview = operation{
		name: "submit_review", method: http.MethodPost, path: "/api/reviews/",
		auth: AuthBearer, failure: "Failed to submit your review.",
	}
	opIssueToken = operation{
		name: "issue_token", method: http.MethodPost, path: "/api/token/",
		auth: AuthNone, failure: "Failed to log in",
	}
	opRegister = operation{
		name: "register", method: http.MethodPost, path: "/api/users/register/",
		auth: AuthNone, failure: "Failed to register",
	}
	opCurrentIdentity = operation{
		name: "current_identity", method: http.MethodGet, path: "/api/users/me/",
		auth: AuthBearer, failure: "Failed to fetch user details",
	}
	opListPatients = operation{
		name: "list_patients", method: http.MethodGet, path: "/api/patients/patients/",
		auth: AuthCookie, failure: "Failed to fetch patients",
	}
	opMyProfile = operation{
		name: "my_profile", method: http.MethodGet, path: "/api/patients/me/",
		auth: AuthBearer, failure: "Failed to fetch your profile",
	}
	opCreateHistoryEntry = operation{
		name: "create_history_entry", method: http.MethodPost, path: "/api/patients/history/",
		auth: AuthCookie, failure: "Failed to create history entry",
	}
	opCreatePrescription = operation{
		name: "create_prescription", method: http.MethodPost, path: "/api/patients/prescriptions/",
		auth: AuthCookie, failure: "Failed to create prescription",
	}
	opListAppointments = operation{
		name: "list_appointments", method: http.MethodGet, path: "/api/patients/appointments/",
		auth: AuthCookie, failure: "Failed to fetch appointments",
	}
	opCreateAppointment = operation{
		name: "create_appointment", method: http.MethodPost, path: "/api/patients/appointments/",
		auth: AuthBearer, failure: "Failed to book appointment.",
	}
	opUpdateAppointmentStatus = operation{
		name: "update_appointment_status", method: http.MethodPatch,
		auth: AuthCookie, failure: "Failed to update appointment status.",
	}
)

// ListBlogPosts はブログ記事一覧を取得する。
func (c *Client) ListBlogPosts(ctx context.Context) ([]model.BlogPost, error) {
	posts := []model.BlogPost{}
	if err := c.do(ctx, opListBlogPosts, nil, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// ListFaqCategories はFAQカテゴリを質問付きで取得する。
func (c *Client) ListFaqCategories(ctx context.Context) ([]model.FaqCategory, error) {
	categories := []model.FaqCategory{}
	if err := c.do(ctx, opListFaqCategories, nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// ListReviews は公開レビュー一覧を取得する。
func (c *Client) ListReviews(ctx context.Context) ([]model.Review, error) {
	reviews := []model.Review{}
	if err := c.do(ctx, opListReviews, nil, &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

// SubmitReview はログイン中の患者としてレビューを投稿する。
// 評価が1〜5の範囲外なら通信せずにエラーを返す。
func (c *Client) SubmitReview(ctx context.Context, in model.ReviewInput) (*model.Review, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, model.NewInvalidRatingError(in.Rating)
	}
	var review model.Review
	if err := c.do(ctx, opSubmitReview, in, &review); err != nil {
		return nil, err
	}
	return &review, nil
}

// IssueToken はユーザー名とパスワードからトークンペアを発行する。
// 保存はしない。
func (c *Client) IssueToken(ctx context.Context, username, password string) (*model.Credential, error) {
	var cred model.Credential
	req := model.LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, opIssueToken, req, &cred); err != nil {
		return nil, err
	}
	if cred.Empty() {
		return nil, model.NewBackendError(opIssueToken.failure, http.StatusOK, nil)
	}
	return &cred, nil
}

// Register は患者アカウントを作成する。
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (*model.Identity, error) {
	var identity model.Identity
	if err := c.do(ctx, opRegister, req, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// CurrentIdentity は保存済みトークンの持ち主を取得する。
func (c *Client) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	var identity model.Identity
	if err := c.do(ctx, opCurrentIdentity, nil, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// ListPatients は患者一覧を診療履歴と処方込みで取得する（スタッフ用）。
func (c *Client) ListPatients(ctx context.Context) ([]model.Patient, error) {
	patients := []model.Patient{}
	if err := c.do(ctx, opListPatients, nil, &patients); err != nil {
		return nil, err
	}
	return patients, nil
}

// MyProfile はログイン中の患者自身のプロフィールを取得する。
func (c *Client) MyProfile(ctx context.Context) (*model.Patient, error) {
	var patient model.Patient
	if err := c.do(ctx, opMyProfile, nil, &patient); err != nil {
		return nil, err
	}
	return &patient, nil
}

// CreateHistoryEntry は診療履歴を追加する（スタッフ用）。
// バックエンドは作成されたフィールドをそのまま返す。
func (c *Client) CreateHistoryEntry(ctx context.Context, in model.HistoryInput) (*model.HistoryInput, error) {
	var created model.HistoryInput
	if err := c.do(ctx, opCreateHistoryEntry, in, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreatePrescription は診療履歴に処方を追加する（スタッフ用）。
func (c *Client) CreatePrescription(ctx context.Context, in model.PrescriptionInput) (*model.PrescriptionInput, error) {
	var created model.PrescriptionInput
	if err := c.do(ctx, opCreatePrescription, in, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListAppointments は全予約を取得する（スタッフ用）。
func (c *Client) ListAppointments(ctx context.Context) ([]model.Appointment, error) {
	appointments := []model.Appointment{}
	if err := c.do(ctx, opListAppointments, nil, &appointments); err != nil {
		return nil, err
	}
	return appointments, nil
}

// CreateAppointment はログイン中の患者として予約を申し込む。
// ステータスはバックエンドがPENDINGで作成する。
func (c *Client) CreateAppointment(ctx context.Context, in model.AppointmentInput) (*model.Appointment, error) {
	var appointment model.Appointment
	if err := c.do(ctx, opCreateAppointment, in, &appointment); err != nil {
		return nil, err
	}
	return &appointment, nil
}

// UpdateAppointmentStatus は予約のステータスを変更する（スタッフ用）。
// 未知のステータスは通信せずにエラーを返す。
func (c *Client) UpdateAppointmentStatus(ctx context.Context, id int, status model.AppointmentStatus) (*model.Appointment, error) {
	if !status.Valid() {
		return nil, model.NewInvalidStatusError(status)
	}
	op := opUpdateAppointmentStatus
	op.path = fmt.Sprintf("/api/patients/appointments/%d/", id)

	var appointment model.Appointment
	if err := c.do(ctx, op, model.StatusUpdate{Status: status}, &appointment); err != nil {
		return nil, err
	}
	return &appointment, nil
}
