package processors

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"flowengine/internal/api/models"
	"flowengine/internal/engine"
	"flowengine/internal/engine/resolver"

	"github.com/rs/zerolog"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultMaxRetries     = 3
	defaultRetryDelay     = time.Second
	maxResponseBodyBytes  = 10 << 20
	redactedHeaderValue   = "[REDACTED]"
	defaultAPIKeyHeader   = "X-API-Key"
	httpContentTypeHeader = "Content-Type"
)

var defaultRetryOn = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"api-key":             true,
	"x-api-key":           true,
	"cookie":              true,
	"set-cookie":          true,
}

// errRequestTimeout marks an attempt cut off by the request timeout.
var errRequestTimeout = errors.New("request timed out")

type HTTPProcessor struct {
	client *http.Client
	logger zerolog.Logger
	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewHTTPProcessor(client *http.Client, logger zerolog.Logger) *HTTPProcessor {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProcessor{client: client, logger: logger, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type preparedRequest struct {
	method       string
	url          string
	headers      http.Header
	body         []byte
	timeout      time.Duration
	maxRetries   int
	retryDelay   time.Duration
	retryOn      []int
	responseType string
	// url with credentials redacted, for traces and logs
	traceURL      string
	secretHeaders []string
}

type httpResponse struct {
	status  int
	headers http.Header
	body    []byte
}

func (slf *HTTPProcessor) Process(ctx context.Context, node models.Node, ec *engine.ExecutionContext) (models.NodeOutput, error) {
	cfg, err := models.GetTypedConfig[models.HTTPConfig](node)
	if err != nil {
		return engine.Failure("invalid http config: %v", err), nil
	}
	req, err := slf.prepare(cfg, ec)
	if err != nil {
		return engine.Failure("%v", err), nil
	}

	trace := map[string]any{
		"method":  req.method,
		"url":     req.traceURL,
		"headers": SanitizeHeaders(req.headers, req.secretHeaders...),
	}
	slf.logger.Debug().
		Str("executionId", ec.Run.ExecutionID).
		Str("nodeId", node.ID).
		Str("method", req.method).
		Str("url", req.traceURL).
		Interface("headers", trace["headers"]).
		Msg("Sending HTTP request")

	var (
		resp    *httpResponse
		lastErr error
		attempt int
	)
	for attempt = 0; attempt <= req.maxRetries; attempt++ {
		if attempt > 0 {
			delay := req.retryDelay * time.Duration(1<<(attempt-1))
			if err := slf.sleep(ctx, delay); err != nil {
				return engine.Failure("request cancelled: %v", err), nil
			}
		}

		resp, lastErr = slf.send(ctx, req)
		if lastErr != nil {
			if ctx.Err() != nil {
				return engine.Failure("request cancelled: %v", ctx.Err()), nil
			}
			slf.logger.Warn().Err(lastErr).Str("nodeId", node.ID).Int("attempt", attempt+1).Msg("HTTP request failed")
			continue
		}
		if attempt < req.maxRetries && slices.Contains(req.retryOn, resp.status) {
			slf.logger.Warn().Int("status", resp.status).Str("nodeId", node.ID).Int("attempt", attempt+1).Msg("Retrying HTTP request")
			continue
		}
		break
	}
	attempts := min(attempt+1, req.maxRetries+1)

	if resp == nil {
		out := engine.Failure("%v", lastErr)
		out.Data = map[string]any{"attempts": attempts, "request": trace}
		return out, nil
	}

	data := map[string]any{
		"status":     resp.status,
		"statusText": http.StatusText(resp.status),
		"headers":    SanitizeHeaders(resp.headers),
		"body":       decodeBody(resp, req.responseType),
		"attempts":   attempts,
		"request":    trace,
	}
	if resp.status >= http.StatusBadRequest {
		out := engine.Failure("request failed with status %d", resp.status)
		out.Data = data
		return out, nil
	}
	return engine.Success(data), nil
}

func (slf *HTTPProcessor) prepare(cfg models.HTTPConfig, ec *engine.ExecutionContext) (preparedRequest, error) {
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}

	rawURL, err := ec.Template(cfg.URL)
	if err != nil {
		return preparedRequest{}, fmt.Errorf("url: %w", err)
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return preparedRequest{}, fmt.Errorf("invalid url %q", rawURL)
	}

	query := u.Query()
	for key, value := range cfg.QueryParams {
		resolved, err := ec.Template(value)
		if err != nil {
			return preparedRequest{}, fmt.Errorf("query %s: %w", key, err)
		}
		query.Set(key, resolved)
	}

	headers := http.Header{}
	for key, value := range cfg.Headers {
		resolved, err := ec.Template(value)
		if err != nil {
			return preparedRequest{}, fmt.Errorf("header %s: %w", key, err)
		}
		headers.Set(key, resolved)
	}

	var secretHeaders, secretParams []string
	if cfg.Auth != nil {
		if err := applyAuth(*cfg.Auth, ec, headers, query); err != nil {
			return preparedRequest{}, err
		}
		if cfg.Auth.Type == models.HTTPAuthAPIKey {
			if name := apiKeyName(*cfg.Auth); strings.EqualFold(cfg.Auth.In, "query") {
				secretParams = append(secretParams, name)
			} else {
				secretHeaders = append(secretHeaders, name)
			}
		}
	}
	u.RawQuery = query.Encode()

	var body []byte
	if cfg.Body != nil && method != http.MethodGet && method != http.MethodHead {
		body, err = encodeBody(*cfg.Body, ec, headers)
		if err != nil {
			return preparedRequest{}, err
		}
	}

	req := preparedRequest{
		method:        method,
		url:           u.String(),
		headers:       headers,
		body:          body,
		timeout:       defaultHTTPTimeout,
		maxRetries:    defaultMaxRetries,
		retryDelay:    defaultRetryDelay,
		retryOn:       defaultRetryOn,
		responseType:  cfg.ResponseType,
		traceURL:      SanitizeURL(u, secretParams...),
		secretHeaders: secretHeaders,
	}
	if cfg.Timeout > 0 {
		req.timeout = time.Duration(cfg.Timeout) * time.Millisecond
	}
	if cfg.Retry != nil {
		if cfg.Retry.MaxRetries != nil {
			req.maxRetries = max(*cfg.Retry.MaxRetries, 0)
		}
		if cfg.Retry.RetryDelay > 0 {
			req.retryDelay = time.Duration(cfg.Retry.RetryDelay) * time.Millisecond
		}
		if len(cfg.Retry.RetryOn) > 0 {
			req.retryOn = cfg.Retry.RetryOn
		}
	}
	return req, nil
}

func applyAuth(auth models.HTTPAuth, ec *engine.ExecutionContext, headers http.Header, query url.Values) error {
	switch auth.Type {
	case models.HTTPAuthBasic:
		user, err := ec.Template(auth.Username)
		if err != nil {
			return fmt.Errorf("auth username: %w", err)
		}
		pass, err := ec.Template(auth.Password)
		if err != nil {
			return fmt.Errorf("auth password: %w", err)
		}
		headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	case models.HTTPAuthBearer:
		token, err := ec.Template(auth.Token)
		if err != nil {
			return fmt.Errorf("auth token: %w", err)
		}
		headers.Set("Authorization", "Bearer "+token)
	case models.HTTPAuthAPIKey:
		key := apiKeyName(auth)
		value, err := ec.Template(auth.Value)
		if err != nil {
			return fmt.Errorf("auth api key: %w", err)
		}
		if strings.EqualFold(auth.In, "query") {
			query.Set(key, value)
		} else {
			headers.Set(key, value)
		}
	case "":
	default:
		return fmt.Errorf("unknown auth type %q", auth.Type)
	}
	return nil
}

func apiKeyName(auth models.HTTPAuth) string {
	if auth.Key == "" {
		return defaultAPIKeyHeader
	}
	return auth.Key
}

func encodeBody(body models.HTTPBody, ec *engine.ExecutionContext, headers http.Header) ([]byte, error) {
	setType := func(ct string) {
		if headers.Get(httpContentTypeHeader) == "" {
			headers.Set(httpContentTypeHeader, ct)
		}
	}

	switch body.Type {
	case models.HTTPBodyNone, "":
		return nil, nil
	case models.HTTPBodyJSON:
		setType("application/json")
		if s, ok := body.Content.(string); ok {
			out, err := ec.Template(s)
			return []byte(out), err
		}
		resolved, err := ec.Deep(body.Content)
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		return json.Marshal(resolved)
	case models.HTTPBodyForm:
		setType("application/x-www-form-urlencoded")
		if s, ok := body.Content.(string); ok {
			out, err := ec.Template(s)
			return []byte(out), err
		}
		resolved, err := ec.Deep(body.Content)
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		fields, ok := resolved.(map[string]any)
		if !ok && resolved != nil {
			return nil, fmt.Errorf("form body must be an object")
		}
		form := url.Values{}
		for key, value := range fields {
			form.Set(key, resolver.Stringify(value))
		}
		return []byte(form.Encode()), nil
	case models.HTTPBodyText:
		setType("text/plain; charset=utf-8")
		out, err := ec.Template(resolver.Stringify(body.Content))
		return []byte(out), err
	default:
		return nil, fmt.Errorf("unknown body type %q", body.Type)
	}
}

func (slf *HTTPProcessor) send(ctx context.Context, req preparedRequest) (*httpResponse, error) {
	attemptCtx, cancel := context.WithTimeoutCause(ctx, req.timeout, errRequestTimeout)
	defer cancel()

	var reader io.Reader
	if req.body != nil {
		reader = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.method, req.url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header = req.headers.Clone()

	resp, err := slf.client.Do(httpReq)
	if err != nil {
		if errors.Is(context.Cause(attemptCtx), errRequestTimeout) {
			return nil, fmt.Errorf("%w after %s", errRequestTimeout, req.timeout)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			limit := req.timeout
			if slf.client.Timeout > 0 {
				limit = min(limit, slf.client.Timeout)
			}
			return nil, fmt.Errorf("%w after %s", errRequestTimeout, limit)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = req.traceURL
		}
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		if errors.Is(context.Cause(attemptCtx), errRequestTimeout) {
			return nil, fmt.Errorf("%w after %s", errRequestTimeout, req.timeout)
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &httpResponse{status: resp.StatusCode, headers: resp.Header, body: body}, nil
}

func decodeBody(resp *httpResponse, responseType string) any {
	switch strings.ToLower(responseType) {
	case "text":
		return string(resp.body)
	case "json":
	default:
		if !strings.Contains(resp.headers.Get(httpContentTypeHeader), "json") {
			return string(resp.body)
		}
	}
	if len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return string(resp.body)
	}
	return parsed
}

// SanitizeHeaders flattens headers for traces with credentials redacted.
// extra names headers that carry secrets for this request only.
func SanitizeHeaders(headers http.Header, extra ...string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] || slices.ContainsFunc(extra, func(name string) bool {
			return strings.EqualFold(name, key)
		}) {
			out[key] = redactedHeaderValue
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// SanitizeURL renders u with any userinfo password and the given query
// parameters redacted.
func SanitizeURL(u *url.URL, secretParams ...string) string {
	clean := *u
	if clean.User != nil {
		if _, ok := clean.User.Password(); ok {
			clean.User = url.UserPassword(clean.User.Username(), redactedHeaderValue)
		}
	}
	if len(secretParams) > 0 {
		query := clean.Query()
		for _, name := range secretParams {
			if query.Has(name) {
				query.Set(name, redactedHeaderValue)
			}
		}
		clean.RawQuery = query.Encode()
	}
	return clean.String()
}
