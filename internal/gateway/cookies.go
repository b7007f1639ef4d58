package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	cookiejar "github.com/juju/persistent-cookiejar"
)

// Djangoのセッション系Cookie名
const (
	SessionCookieName = "sessionid"
	CSRFCookieName    = csrfCookieName
)

// 有効期限の無いCookieはジャーのファイルに保存されないため、Djangoの既定値に合わせて期限を付ける。
const (
	sessionCookieAge = 14 * 24 * time.Hour
	csrfCookieAge    = 365 * 24 * time.Hour
)

// NewCookieJar はスタッフ操作用のCookieジャーを生成する。
// pathが空の場合はファイルに保存しない。
func NewCookieJar(path string) (*cookiejar.Jar, error) {
	opts := &cookiejar.Options{Filename: path}
	if path == "" {
		opts.NoPersist = true
	}
	jar, err := cookiejar.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie jar: %w", err)
	}
	return jar, nil
}

// SeedStaffCookies は管理画面で取得したセッションCookieをジャーへ登録する。
// 空の値は登録しない。
func SeedStaffCookies(jar http.CookieJar, baseURL, sessionID, csrfToken string) error {
	if sessionID == "" && csrfToken == "" {
		return nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid API base URL: %w", err)
	}

	now := time.Now()
	var cookies []*http.Cookie
	if sessionID != "" {
		cookies = append(cookies, &http.Cookie{
			Name: SessionCookieName, Value: sessionID, Path: "/",
			Expires: now.Add(sessionCookieAge),
		})
	}
	if csrfToken != "" {
		cookies = append(cookies, &http.Cookie{
			Name: CSRFCookieName, Value: csrfToken, Path: "/",
			Expires: now.Add(csrfCookieAge),
		})
	}
	jar.SetCookies(u, cookies)
	return nil
}

// HasStaffSession はジャーにスタッフのセッションCookieがあるかを返す。
func HasStaffSession(jar http.CookieJar, baseURL string) bool {
	if jar == nil {
		return false
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	for _, c := range jar.Cookies(u) {
		if c.Name == SessionCookieName && c.Value != "" {
			return true
		}
	}
	return false
}
