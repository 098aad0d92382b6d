// Package apiclient はリモートREST APIのクライアントを提供する。
// 認証が必要な呼び出しでは、呼び出しのたびにTokenSourceからBearerトークンを読み直す。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hitoshi/bloodlink/internal/metrics"
	"github.com/hitoshi/bloodlink/internal/model"
)

// maxResponseSize はレスポンスボディの読み取り上限（4MB）。
const maxResponseSize = 4 << 20

// TokenSource は現在のセッショントークンを返す。
// トークンがない場合は空文字を返す（エラーではない）。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc は関数をTokenSourceとして扱うアダプタ。
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token はTokenSourceインターフェースを実装する。
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken は固定トークンを返すTokenSource。
type StaticToken string

// Token はTokenSourceインターフェースを実装する。
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Config はClientの設定。
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    metrics.Recorder
	Logger     *slog.Logger
	// BreakerTimeout はopen状態からhalf-openに移るまでの待ち時間。
	BreakerTimeout time.Duration
}

// Client はリモートAPIとの通信を担う。全Webセッションで共有する。
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*response]
	metrics    metrics.Recorder
	logger     *slog.Logger
}

// New はClientを生成する。
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		breaker:    newBreaker("remote-api", cfg.BreakerTimeout, cfg.Metrics, cfg.Logger),
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// API はTokenSourceに紐付いたリモートAPIの呼び出し口。
type API struct {
	c      *Client
	tokens TokenSource
}

// For はTokenSourceに紐付いたAPIを返す。
func (c *Client) For(tokens TokenSource) *API {
	return &API{c: c, tokens: tokens}
}

// Public は認証ヘッダーを付けないAPIを返す。
func (c *Client) Public() *API {
	return &API{c: c}
}

// BreakerState はサーキットブレーカーの現在の状態を返す。
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// response はブレーカーを通過したHTTPレスポンス。
type response struct {
	status int
	body   []byte
}

// request は1回分の呼び出し内容。
type request struct {
	method   string
	path     string
	query    url.Values
	body     any
	endpoint string // メトリクス用のエンドポイント名
}

// do はリクエストを送信し、2xxならoutにJSONをデコードする。
// 非2xxは*model.APIErrorとして返す。
func (a *API) do(ctx context.Context, r request, out any) error {
	ctx, cancel := context.WithTimeout(ctx, a.c.timeout)
	defer cancel()

	var token string
	if a.tokens != nil {
		t, err := a.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to read session token: %w", err)
		}
		token = t
	}

	u := a.c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var payload []byte
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		payload = b
	}

	start := time.Now()
	resp, err := a.c.breaker.Execute(func() (*response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, u, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		res, err := a.c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		rsp := &response{status: res.StatusCode, body: data}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			return rsp, decodeAPIError(res.StatusCode, data)
		}
		return rsp, nil
	})

	status := 0
	if resp != nil {
		status = resp.status
	}
	a.c.metrics.RecordUpstreamCall(r.endpoint, status, time.Since(start))

	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s %s: %w", r.method, r.path, ErrUnavailable)
		}
		a.c.logger.Warn("リモートAPIの呼び出しに失敗しました",
			slog.String("endpoint", r.endpoint),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", r.endpoint, err)
	}
	return nil
}

// ErrUnavailable はサーキットブレーカーが開いていて呼び出しを行わなかったことを示す。
var ErrUnavailable = errors.New("remote api temporarily unavailable")

// decodeAPIError はエラーレスポンスからmessageを取り出す。
// JSONでない、またはmessageがない場合はMessageを空にする。
func decodeAPIError(status int, body []byte) *model.APIError {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	apiErr := &model.APIError{Status: status}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
	}
	return apiErr
}

func escape(id string) string {
	return url.PathEscape(id)
}
