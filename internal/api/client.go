// Package api wraps the Veloura backend REST interface: one pre-configured
// client carrying the base URL and bearer token, speaking the backend's
// {success, message, ...} JSON envelope.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
	"github.com/veloura/storefront-go/pkg/metrics"
)

// Envelope is the common wrapper every backend response carries.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Status reports the envelope outcome and backend-provided message.
func (e Envelope) Status() (bool, string) {
	return e.Success, e.Message
}

// Response is implemented by any payload struct embedding Envelope.
type Response interface {
	Status() (bool, string)
}

// Request describes one backend call.
type Request struct {
	Operation string
	Method    string
	Path      string
	Body      any
	Timeout   time.Duration
}

// Options configures the client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	Logger     *logger.Logger
	Metrics    *metrics.RequestMetrics
	HTTPClient *http.Client
}

type Client struct {
	baseURL   string
	timeout   time.Duration
	userAgent string
	http      *http.Client
	log       *logger.Logger
	metrics   *metrics.RequestMetrics

	mu    sync.RWMutex
	token string
}

// NewClient builds a backend client from the provided options.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "veloura-storefront-go"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		http:      httpClient,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// SetToken installs the bearer token forwarded on subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken drops the bearer token.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// Token returns the currently installed bearer token, empty when unauthenticated.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Authenticated reports whether a bearer token is installed.
func (c *Client) Authenticated() bool {
	return c.Token() != ""
}

// Do performs the request and decodes the response into out. The request body
// is validated before anything is sent; out may be nil when the caller only
// cares about the envelope outcome. When out implements Response the envelope
// success flag is enforced; bare-document endpoints (settings) decode as-is.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if req.Body != nil {
		if err := ValidatePayload(req.Body); err != nil {
			return err
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx = c.log.WithOperation(ctx, req.Operation)
	started := time.Now()
	err := c.roundTrip(ctx, req, out)
	c.metrics.ObserveDuration(req.Operation, time.Since(started))
	if err != nil {
		code := pkgerrors.CodeInternal
		if typed := pkgerrors.As(err); typed != nil {
			code = typed.Code()
		}
		c.metrics.IncFailure(req.Operation, string(code))
		c.log.Error(ctx, "backend request failed", err)
		return err
	}
	c.metrics.IncSuccess(req.Operation)
	c.log.Debug(ctx, "backend request ok")
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req Request, out any) error {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding request body")
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building request")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return transportError(ctx, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(ctx, err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, raw)
	}

	if out == nil {
		out = &Envelope{}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDecode, err, "decoding response body")
	}
	if env, ok := out.(Response); ok {
		if success, message := env.Status(); !success {
			if message == "" {
				message = "request rejected"
			}
			return pkgerrors.New(pkgerrors.CodeBackend, message)
		}
	}
	return nil
}

// Responses larger than this are cut off rather than buffered; catalog lists
// stay well under it.
const maxResponseBytes = 8 << 20

func transportError(ctx context.Context, err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "request timed out")
	}
	if stdErrors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "request canceled")
	}
	var urlErr *url.Error
	if stdErrors.As(err, &urlErr) && urlErr.Timeout() {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "request timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "reaching backend")
}

func statusError(status int, raw []byte) error {
	code := pkgerrors.FromHTTPStatus(status)
	message := pkgerrors.MetadataFor(code).PublicMessage

	// Best-effort extraction of the backend's human-readable message; FastAPI
	// errors arrive as {detail: ...}, envelope errors as {message: ...}.
	var parsed struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Message != "" {
			message = parsed.Message
		} else if parsed.Detail != "" {
			message = parsed.Detail
		}
	}
	return pkgerrors.New(code, message).WithDetails(map[string]any{"http_status": status})
}

// Get is shorthand for an operation with no request body.
func (c *Client) Get(ctx context.Context, operation, path string, out any) error {
	return c.Do(ctx, Request{Operation: operation, Method: http.MethodGet, Path: path}, out)
}

// Post sends body as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, operation, path string, body any, out any) error {
	return c.Do(ctx, Request{Operation: operation, Method: http.MethodPost, Path: path, Body: body}, out)
}

// Put sends body as JSON via PUT.
func (c *Client) Put(ctx context.Context, operation, path string, body any, out any) error {
	return c.Do(ctx, Request{Operation: operation, Method: http.MethodPut, Path: path, Body: body}, out)
}

// Delete issues a DELETE, optionally with a JSON body.
func (c *Client) Delete(ctx context.Context, operation, path string, body any, out any) error {
	return c.Do(ctx, Request{Operation: operation, Method: http.MethodDelete, Path: path, Body: body}, out)
}
