// Package gateway はバックエンドAPIへの唯一の窓口となるクライアントを提供する。
//
// 論理操作ごとに1つのメソッドを持ち、操作ごとに認可モードを選ぶ。
//   - AuthNone: 認可情報を付けない（公開API、トークン発行、登録）
//   - AuthBearer: 保存済みアクセストークンをAuthorizationヘッダーに付ける（患者向け操作）
//   - AuthCookie: クッキージャーのセッションCookieを送る（スタッフ向け操作）
//
// 1回の呼び出しで1リクエストだけを送り、リトライやバックオフは行わない。
// 失敗はmodel.APIErrorとして即座に呼び出し元へ返す。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/dentalfront/internal/metrics"
	"github.com/hitoshi/dentalfront/internal/model"
)

// AuthMode は操作ごとの認可モード。
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthBearer
	AuthCookie
)

// 認可モードごとの401/403時の固定メッセージ
const (
	msgUnauthorizedCookie = "Not authorized. Please log in via the /admin panel."
	msgUnauthorizedBearer = "Authorization failed. Please log in again."
	msgUnauthorizedNone   = "Not authorized."
)

// Djangoのセッション認証で使うCookie名とヘッダー名
const (
	csrfCookieName = "csrftoken"
	csrfHeaderName = "X-CSRFToken"
)

// TokenSource はBearerモードで使うCredentialの読み出し元。
// credential.Storeがこれを満たす。
type TokenSource interface {
	Load(ctx context.Context) (*model.Credential, error)
}

// Config はClientの生成パラメータ。
type Config struct {
	BaseURL    string
	HTTPClient *http.Client   // nilの場合はタイムアウト無しのクライアントを使う
	CookieJar  http.CookieJar // AuthCookie の操作でだけ使う
	Tokens     TokenSource
	Logger     *slog.Logger
	Metrics    metrics.MetricsCollector
}

// Client はバックエンドAPIのクライアント。
type Client struct {
	baseURL      string
	httpClient   *http.Client // Cookieを送らないクライアント
	cookieClient *http.Client // Cookieジャー付きクライアント
	jar          http.CookieJar
	tokens       TokenSource
	logger       *slog.Logger
	metrics      metrics.MetricsCollector
}

// NewClient はClientを生成する。BaseURLはhttp(s)の絶対URLでなければならない。
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL: %q", cfg.BaseURL)
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{}
	}

	plain := *base
	plain.Jar = nil

	withJar := *base
	withJar.Jar = cfg.CookieJar

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var mc metrics.MetricsCollector = metrics.Nop{}
	if cfg.Metrics != nil {
		mc = cfg.Metrics
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &plain,
		cookieClient: &withJar,
		jar:          cfg.CookieJar,
		tokens:       cfg.Tokens,
		logger:       logger,
		metrics:      mc,
	}, nil
}

// BaseURL は末尾スラッシュを除いたバックエンドのベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// operation は1つの論理操作の定義。
type operation struct {
	name    string // メトリクスとログのラベル
	method  string
	path    string
	auth    AuthMode
	failure string // 汎用失敗時のメッセージ
}

// do は操作を1回だけ実行し、2xxならレスポンスボディをoutへデコードする。
func (c *Client) do(ctx context.Context, op operation, in, out any) error {
	var token string
	if op.auth == AuthBearer {
		if c.tokens == nil {
			return model.NewUnauthenticatedError()
		}
		cred, err := c.tokens.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load credential: %w", err)
		}
		if cred.Empty() {
			return model.NewUnauthenticatedError()
		}
		token = cred.Access
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op.name, err)
		}
		body = bytes.NewReader(data)
	}

	reqURL := c.baseURL + op.path
	req, err := http.NewRequestWithContext(ctx, op.method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.httpClient
	switch op.auth {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+token)
	case AuthCookie:
		client = c.cookieClient
		if !isSafeMethod(op.method) {
			c.attachCSRF(req)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	c.metrics.RecordBackendLatency(op.name, elapsed)
	if err != nil {
		c.metrics.RecordBackendCall(op.name, 0)
		c.logger.Warn("backend request failed",
			slog.String("operation", op.name),
			slog.String("method", op.method),
			slog.String("path", op.path),
			slog.String("error", err.Error()),
		)
		return model.NewBackendError(op.failure, 0, nil)
	}
	defer resp.Body.Close()
	c.metrics.RecordBackendCall(op.name, resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("failed to read backend response",
			slog.String("operation", op.name),
			slog.String("error", err.Error()),
		)
		return model.NewBackendError(op.failure, resp.StatusCode, nil)
	}

	c.logger.Debug("backend request",
		slog.String("operation", op.name),
		slog.String("method", op.method),
		slog.String("path", op.path),
		slog.Int("status", resp.StatusCode),
		slog.Float64("duration_ms", float64(elapsed.Nanoseconds())/float64(time.Millisecond)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := classify(op, resp.StatusCode, respBody)
		c.logger.Warn("backend returned error status",
			slog.String("operation", op.name),
			slog.Int("status", resp.StatusCode),
			slog.String("kind", string(apiErr.Kind)),
		)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		c.logger.Warn("failed to decode backend response",
			slog.String("operation", op.name),
			slog.String("error", err.Error()),
		)
		return model.NewBackendError(op.failure, resp.StatusCode, nil)
	}
	return nil
}

// attachCSRF はジャーにDjangoのcsrftoken Cookieがあれば、X-CSRFTokenとRefererを付ける。
func (c *Client) attachCSRF(req *http.Request) {
	if c.jar == nil {
		return
	}
	for _, ck := range c.jar.Cookies(req.URL) {
		if ck.Name == csrfCookieName && ck.Value != "" {
			req.Header.Set(csrfHeaderName, ck.Value)
			req.Header.Set("Referer", c.baseURL+"/")
			return
		}
	}
}

// classify は2xx以外のレスポンスをエラー分類に変換する。
func classify(op operation, statusCode int, body []byte) *model.APIError {
	messages := FlattenErrorBody(body)

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return model.NewUnauthorizedError(unauthorizedMessage(op.auth), statusCode, messages)
	case statusCode == http.StatusBadRequest && len(messages) > 0:
		return model.NewValidationError(messages, statusCode)
	default:
		return model.NewBackendError(op.failure, statusCode, messages)
	}
}

func unauthorizedMessage(mode AuthMode) string {
	switch mode {
	case AuthCookie:
		return msgUnauthorizedCookie
	case AuthBearer:
		return msgUnauthorizedBearer
	default:
		return msgUnauthorizedNone
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
