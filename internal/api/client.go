// Package api is the single configured REST pipeline for the client.
// Every request goes through Do: bearer injection, tracing, metrics, and
// the global 401 sweep all live here so feature code never re-implements
// them.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/acadex/acadex-client/config"
	"github.com/acadex/acadex-client/pkg/errors"
	"github.com/acadex/acadex-client/pkg/httpclient"
	"github.com/acadex/acadex-client/pkg/logger"
	"github.com/acadex/acadex-client/pkg/metrics"
	"github.com/acadex/acadex-client/pkg/tracing"
)

// SessionStore supplies the current bearer token (empty means
// unauthenticated) and owns full session teardown. The 401 sweep routes
// through Logout so in-memory state, durable storage and every session
// observer are torn down together.
type SessionStore interface {
	Token() string
	Logout()
}

// Client is the HTTP facade. One instance per process.
type Client struct {
	baseURL        string
	http           httpclient.Client
	uploadHTTP     httpclient.Client
	sessions       SessionStore
	onUnauthorized func()
}

// Option customizes the facade
type Option func(*Client)

// WithHTTPClient replaces the default transport (tests)
func WithHTTPClient(c httpclient.Client) Option {
	return func(cl *Client) {
		cl.http = c
		cl.uploadHTTP = c
	}
}

// WithUnauthorizedHook sets the callback invoked after a 401 sweep has
// destroyed the session. In the SPA this is the forced full reload;
// embedders navigate to their login surface here.
func WithUnauthorizedHook(fn func()) Option {
	return func(cl *Client) {
		cl.onUnauthorized = fn
	}
}

// New creates the facade
func New(cfg config.APIConfig, sessions SessionStore, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           httpclient.NewClientWithTimeout(cfg.RequestTimeout),
		uploadHTTP:     httpclient.NewClientWithTimeout(cfg.UploadTimeout),
		sessions:       sessions,
		onUnauthorized: func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestOption customizes a single request
type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the pipeline timeout for one request
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = d
	}
}

// Get issues a GET request and decodes the JSON response into out
func (c *Client) Get(ctx context.Context, path string, out interface{}, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

// Post issues a POST request with a JSON body and decodes the response into out
func (c *Client) Post(ctx context.Context, path string, body, out interface{}, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPost, path, body, out, opts...)
}

// Do issues a request relative to the configured base URL. body (when non-nil)
// is JSON-encoded; out (when non-nil) receives the decoded JSON response.
// No retries: callers own their own retry policy, and none is applied here.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}, opts ...RequestOption) error {
	options := requestOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, cancel, err := c.newRequest(ctx, method, path, reader, options)
	if err != nil {
		return err
	}
	if cancel != nil {
		defer cancel()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, method, path, out)
}

// Upload sends a multipart file upload. Uploads run on the extended-timeout
// pipeline (5 minutes by default) unless overridden per request.
func (c *Client) Upload(ctx context.Context, path, fieldName, fileName string, content io.Reader, out interface{}, opts ...RequestOption) error {
	options := requestOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(fieldName, fileName)
	if err != nil {
		return fmt.Errorf("failed to create multipart field: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("failed to buffer upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, cancel, err := c.newRequest(ctx, http.MethodPost, path, &buf, options)
	if err != nil {
		return err
	}
	if cancel != nil {
		defer cancel()
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.sendWith(c.uploadHTTP, req, http.MethodPost, path, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, options requestOptions) (*http.Request, context.CancelFunc, error) {
	var cancel context.CancelFunc
	if options.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, options.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}

	if token := c.sessions.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	return req, cancel, nil
}

func (c *Client) send(req *http.Request, method, path string, out interface{}) error {
	return c.sendWith(c.http, req, method, path, out)
}

func (c *Client) sendWith(client httpclient.Client, req *http.Request, method, path string, out interface{}) error {
	ctx, span := tracing.StartSpan(req.Context(), "api.request")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	)

	start := time.Now()
	resp, err := client.Do(req.WithContext(ctx))
	duration := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		metrics.RecordAPIRequest(method, path, "error", duration)
		logger.LogAPICall("platform-api", method+" "+path, "error", duration.Seconds())
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	status := strconv.Itoa(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	metrics.RecordAPIRequest(method, path, status, duration)
	logger.LogAPICall("platform-api", method+" "+path, status, duration.Seconds())

	if resp.StatusCode == http.StatusUnauthorized {
		c.sweepUnauthorized(method, path)
		return errors.UnauthorizedError(method + " " + path)
	}

	if resp.StatusCode == http.StatusNotFound {
		return errors.NotFoundError(path)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, "unexpected status")
		return c.errorFromResponse(resp, method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// sweepUnauthorized implements the global 401 contract: full session
// teardown, then hand control to the embedder's hook. Logout clears both
// durable storage keys, drops the in-memory principal and fires the session
// watch, so the channel manager and poller shut down before the hook runs.
func (c *Client) sweepUnauthorized(method, path string) {
	logger.Warn("Unauthorized response, destroying session",
		zap.String("method", method),
		zap.String("path", path))
	metrics.UnauthorizedSweeps.Inc()
	c.sessions.Logout()
	c.onUnauthorized()
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) errorFromResponse(resp *http.Response, method, path string) error {
	var body apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("api %s %s: %s (status %d)", method, path, body.Error, resp.StatusCode)
	}
	return fmt.Errorf("api %s %s: unexpected status %d", method, path, resp.StatusCode)
}
