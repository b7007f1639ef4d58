// Package security はバックエンドから受け取ったコンテンツの無害化を提供する。
//
// ブログ記事の本文は管理画面で入力されたHTMLのままUIへ渡るため、
// bluemondayの許可リストで安全なタグと属性のみを通過させる。
package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/dentalfront/internal/model"
)

// ContentSanitizer はブログ記事の無害化のインターフェース。
type ContentSanitizer interface {
	// Sanitize は本文用のHTMLを無害化する。同一入力には常に同一出力を返す。
	Sanitize(rawHTML string) string
	// SanitizePost は記事の本文を無害化し、タイトルと抜粋からタグを除去したコピーを返す。
	// 画像URLがhttp(s)以外の場合は空にする。
	SanitizePost(post model.BlogPost) model.BlogPost
}

type contentSanitizer struct {
	body  *bluemonday.Policy
	plain *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
// 本文のポリシー:
//   - 許可タグ: h2, h3, h4, p, br, a, ul, ol, li, blockquote, pre, code, strong, em, img
//   - script, iframe, style とon*イベント属性は除去
//   - a, imgのURLはhttp, httpsと相対URLのみ
//   - 外部リンクには target="_blank" と rel="noopener noreferrer" を付与
func NewContentSanitizer() ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h2", "h3", "h4",
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	// 記事内のリンクと画像はバックエンドの/media/等を相対URLで参照することがある
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("http", "https")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		body:  p,
		plain: bluemonday.StrictPolicy(),
	}
}

// Sanitize は本文用のHTMLを無害化する。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.body.Sanitize(rawHTML)
}

// SanitizePost は表示用に無害化した記事のコピーを返す。
func (s *contentSanitizer) SanitizePost(post model.BlogPost) model.BlogPost {
	post.Title = strings.TrimSpace(s.plain.Sanitize(post.Title))
	post.Excerpt = strings.TrimSpace(s.plain.Sanitize(post.Excerpt))
	post.Content = s.body.Sanitize(post.Content)
	if !isHTTPURL(post.Image) {
		post.Image = ""
	}
	return post
}

func isHTTPURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
