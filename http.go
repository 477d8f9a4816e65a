package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

// HeaderClientID carries the developer/client id on auth endpoints.
const HeaderClientID = "X-Client-Id"

const headerRequestID = "X-Request-Id"

// Response is the transport-agnostic result handed back to the core and the
// resource wrappers.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if r == nil || len(r.Body) == 0 {
		return errWithMeta(ErrHTTP, nil, map[string]any{"reason": "empty response body"})
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errWithMeta(ErrHTTP, err, map[string]any{"reason": "undecodable response body"})
	}
	return nil
}

type requestOptions struct {
	headers http.Header
	query   url.Values
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

// WithHeader adds a header to the request, overriding client defaults.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = http.Header{}
		}
		o.headers.Set(key, value)
	}
}

// WithQuery adds a query parameter to the request.
func WithQuery(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.query == nil {
			o.query = url.Values{}
		}
		o.query.Set(key, value)
	}
}

// HTTPClient is the HTTP collaborator the session core and resource
// wrappers depend on. Implementations return a Response for any completed
// exchange; non-2xx responses come back alongside a taxonomy error so
// callers can still inspect status and body.
type HTTPClient interface {
	Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error)
	Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error)
}

// APIClient is the production HTTPClient. It keeps a cookie jar (the
// HttpOnly refresh cookie in web/session-only mode rides on it), stamps
// default headers plus a per-request id, and transparently retries
// retryable failures.
type APIClient struct {
	baseURL  string
	http     *http.Client
	logger   Logger
	headers  http.Header
	attempts uint
}

var _ HTTPClient = (*APIClient)(nil)

// APIClientOption customizes an APIClient.
type APIClientOption func(*APIClient)

// WithAPILogger overrides the client logger.
func WithAPILogger(logger Logger) APIClientOption {
	return func(c *APIClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPTimeout overrides the per-attempt timeout.
func WithHTTPTimeout(d time.Duration) APIClientOption {
	return func(c *APIClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRetryAttempts sets how many attempts a retryable request gets.
func WithRetryAttempts(n uint) APIClientOption {
	return func(c *APIClient) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithDefaultHeader sets a header stamped on every request.
func WithDefaultHeader(key, value string) APIClientOption {
	return func(c *APIClient) {
		c.headers.Set(key, value)
	}
}

// NewAPIClient builds an APIClient rooted at baseURL.
func NewAPIClient(baseURL string, opts ...APIClientOption) (*APIClient, error) {
	if baseURL == "" {
		return nil, errWithMeta(ErrValidation, nil, map[string]any{"reason": "base URL is required"})
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errWithMeta(ErrValidation, err, map[string]any{"reason": "invalid base URL"})
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errWithMeta(ErrNetwork, err, nil)
	}

	c := &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		logger:   defLogger{},
		headers:  http.Header{},
		attempts: 3,
	}
	c.headers.Set("Content-Type", "application/json")
	c.headers.Set("Accept", "application/json")

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

func (c *APIClient) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, opts...)
}

func (c *APIClient) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body, opts...)
}

func (c *APIClient) do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	options := &requestOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errWithMeta(ErrValidation, err, map[string]any{"reason": "unencodable request body"})
		}
		payload = encoded
	}

	target := c.baseURL + path
	if len(options.query) > 0 {
		target += "?" + options.query.Encode()
	}

	var res *Response
	err := retry.Do(
		func() error {
			attemptRes, err := c.attempt(ctx, method, target, payload, options.headers)
			res = attemptRes
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryableError),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying %s %s (attempt %d): %v", method, path, n+1, err)
		}),
	)
	return res, err
}

func (c *APIClient) attempt(ctx context.Context, method, target string, payload []byte, headers http.Header) (*Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errWithMeta(ErrValidation, err, map[string]any{"reason": "invalid request"})
	}

	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}
	req.Header.Set(headerRequestID, uuid.NewString())

	httpRes, err := c.http.Do(req)
	if err != nil {
		return nil, errWithMeta(ErrNetwork, err, map[string]any{"method": method})
	}
	defer httpRes.Body.Close()

	data, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return nil, errWithMeta(ErrNetwork, err, map[string]any{"method": method})
	}

	res := &Response{
		StatusCode: httpRes.StatusCode,
		Body:       data,
		Header:     httpRes.Header,
	}

	if httpRes.StatusCode >= 200 && httpRes.StatusCode < 300 {
		return res, nil
	}

	return res, httpStatusError(httpRes.StatusCode)
}

func httpStatusError(status int) error {
	if status == http.StatusTooManyRequests {
		return errWithMeta(ErrRateLimited, nil, map[string]any{
			"status":       status,
			"is_retryable": true,
		})
	}
	return errWithMeta(ErrHTTP, nil, map[string]any{
		"status":       status,
		"is_retryable": status >= 500 || status == http.StatusRequestTimeout,
	})
}
