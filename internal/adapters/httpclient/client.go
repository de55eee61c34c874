package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
	"golang.org/x/time/rate"
)

const (
	maxResponseBytes      = 1 << 20
	defaultRequestTimeout = 30 * time.Second
)

// Endpoint is the shared plumbing of the remote adapters: base URL handling,
// per-request timeouts and status classification.
type Endpoint struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// StatusError is a non-2xx answer. 429 and 5xx unwrap to domain.ErrTransient.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	if Retryable(e.StatusCode) {
		return domain.ErrTransient
	}
	return nil
}

func Retryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		statusCode >= http.StatusInternalServerError
}

// URL joins path onto the endpoint base URL.
func (e Endpoint) URL(path string) (string, error) {
	return BuildURL(e.BaseURL, path)
}

// Do sends req and returns the body of a 2xx answer. Transport failures are
// transient unless the caller's context ended.
func (e Endpoint) Do(ctx context.Context, op string, req *http.Request) ([]byte, error) {
	requestCtx, cancel := e.requestContext(ctx)
	defer cancel()

	resp, err := e.client().Do(req.WithContext(requestCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w: %w", op, domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w: %w", op, domain.ErrTransient, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return body, &StatusError{Op: op, StatusCode: resp.StatusCode, Message: ErrorMessage(body)}
	}
	return body, nil
}

// DoJSON posts payload as JSON and decodes a 2xx answer into out when out is
// not nil.
func (e Endpoint) DoJSON(ctx context.Context, op, method, path string, header http.Header, payload any, out any) error {
	endpoint, err := e.URL(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	respBody, err := e.Do(ctx, op, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func (e Endpoint) client() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}

func (e Endpoint) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := e.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	return context.WithTimeout(ctx, requestTimeout)
}

// ErrorMessage pulls a human readable reason out of the error bodies used by
// OpenAI-compatible, Jira-compatible and Google-compatible services.
func ErrorMessage(body []byte) string {
	var payload struct {
		Error            json.RawMessage   `json:"error"`
		ErrorDescription string            `json:"error_description"`
		ErrorMessages    []string          `json:"errorMessages"`
		Errors           map[string]string `json:"errors"`
		Message          string            `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return truncate(strings.TrimSpace(string(body)))
	}

	var parts []string
	if len(payload.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		var plain string
		switch {
		case json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "":
			parts = append(parts, nested.Message)
		case json.Unmarshal(payload.Error, &plain) == nil && plain != "":
			parts = append(parts, plain)
		}
	}
	if payload.ErrorDescription != "" {
		parts = append(parts, payload.ErrorDescription)
	}
	parts = append(parts, payload.ErrorMessages...)
	for field, message := range payload.Errors {
		parts = append(parts, field+": "+message)
	}
	if payload.Message != "" {
		parts = append(parts, payload.Message)
	}
	return truncate(strings.Join(parts, "; "))
}

func truncate(text string) string {
	const limit = 300
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

// ResolveSecret reads the credential behind ref at call time. An empty ref
// means the service needs no credential.
func ResolveSecret(ctx context.Context, store ports.SecretStore, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", nil
	}
	if store == nil {
		return "", fmt.Errorf("resolve secret %q: no secret store configured", ref)
	}

	value, err := store.Get(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve secret %q: %w", ref, err)
	}
	return strings.TrimSpace(value), nil
}

func BuildURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("api base url is required")
	}
	if path == "" {
		return "", errors.New("api path is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("api base url host is required")
	}

	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	endpoint, err := parsed.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("parse api path: %w", err)
	}
	return endpoint.String(), nil
}

// PerMinute builds a limiter for an upstream quota. Zero or less disables
// limiting.
func PerMinute(requests int) *rate.Limiter {
	if requests <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requests)), 1)
}

// RejectedByTarget marks a permanent 4xx answer as a refusal by the external
// system. Other errors are returned unchanged.
func RejectedByTarget(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && !Retryable(statusErr.StatusCode) {
		return fmt.Errorf("%w: %w", domain.ErrRejectedByTarget, err)
	}
	return err
}
