package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/dentalfront/internal/middleware"
	"github.com/hitoshi/dentalfront/internal/model"
	"github.com/hitoshi/dentalfront/internal/security"
)

// PublicGateway は認証不要の公開コンテンツ取得操作。
type PublicGateway interface {
	ListBlogPosts(ctx context.Context) ([]model.BlogPost, error)
	ListFaqCategories(ctx context.Context) ([]model.FaqCategory, error)
	ListReviews(ctx context.Context) ([]model.Review, error)
}

// PublicHandler はブログ、FAQ、レビューを返すHTTPハンドラー。
type PublicHandler struct {
	gw        PublicGateway
	sanitizer security.ContentSanitizer
}

// NewPublicHandler はPublicHandlerを生成する。
func NewPublicHandler(gw PublicGateway, sanitizer security.ContentSanitizer) *PublicHandler {
	return &PublicHandler{gw: gw, sanitizer: sanitizer}
}

// ListBlogPosts はサニタイズ済みのブログ記事一覧を返す。
// GET /api/blog/posts
func (h *PublicHandler) ListBlogPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.gw.ListBlogPosts(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	out := make([]model.BlogPost, len(posts))
	for i, p := range posts {
		out[i] = h.sanitizer.SanitizePost(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// ListFaqCategories はFAQカテゴリ一覧を返す。
// GET /api/faq/categories
func (h *PublicHandler) ListFaqCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.gw.ListFaqCategories(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	if categories == nil {
		categories = []model.FaqCategory{}
	}
	writeJSON(w, http.StatusOK, categories)
}

// ListReviews はレビュー一覧を返す。
// GET /api/reviews
func (h *PublicHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.gw.ListReviews(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	if reviews == nil {
		reviews = []model.Review{}
	}
	writeJSON(w, http.StatusOK, reviews)
}
