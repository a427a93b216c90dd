// Package rest is the HTTP backend of the transport layer: it maps
// transport requests onto the campus REST API (/api/v1/<resource>[/<id>])
// and its {status, data, message} envelopes.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
	"github.com/campus-hub/querysync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the REST client.
type Config struct {
	// BaseURL is the API root, e.g. https://campus.example.edu/api/v1
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	Timeout time.Duration

	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64
	Burst     int

	Logger     *logger.Logger
	HTTPClient *http.Client
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		Timeout:   15 * time.Second,
		RateLimit: 20,
		Burst:     10,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements transport.Transport over HTTP.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("rest: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		base:    base,
		token:   cfg.Token,
		http:    cfg.HTTPClient,
		limiter: limiter,
		log:     cfg.Logger.With(logger.Component("rest-transport")),
	}, nil
}

// Do implements transport.Transport. Every request is sent exactly once;
// failed reads are retried by the fetch coordinator.
func (c *Client) Do(ctx context.Context, req transport.Request) transport.Response {
	data, err := c.send(ctx, req)
	return transport.Response{Data: data, Error: err}
}

func (c *Client) endpoint(req transport.Request) string {
	u := *c.base
	p := strings.TrimRight(u.Path, "/") + "/" + req.Resource
	rp := strings.TrimRight(u.EscapedPath(), "/") + "/" + url.PathEscape(req.Resource)
	if req.ID != "" {
		p += "/" + req.ID
		rp += "/" + url.PathEscape(req.ID)
	}
	u.Path, u.RawPath = p, rp
	if len(req.Query) > 0 {
		q := url.Values{}
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) send(ctx context.Context, req transport.Request) (any, error) {
	op := string(req.Method) + " " + req.Resource

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, shared.WrapError("rest", op, shared.ErrInvalidInput, "body is not encodable", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), c.endpoint(req), body)
	if err != nil {
		return nil, shared.WrapError("rest", op, shared.ErrInvalidInput, "cannot build request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, shared.WrapError("rest", op, shared.ErrServiceUnavailable, "backend unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.WrapError("rest", op, shared.ErrServiceUnavailable, "cannot read response", err)
	}

	c.log.Debug("backend call",
		logger.String("method", string(req.Method)),
		logger.String("resource", req.Resource),
		logger.Int("status", resp.StatusCode),
		logger.Latency(time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		return nil, statusError(op, resp, raw)
	}
	return unwrap(raw)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPES
// ══════════════════════════════════════════════════════════════════════════════

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// unwrap extracts the payload of {status, data: {<name>: payload}}. Bodies
// without an envelope are returned as they are.
func unwrap(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Status != "" && env.Data != nil {
		raw = env.Data
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("rest: decode response: %w", err)
	}
	if m, ok := data.(map[string]any); ok && len(m) == 1 {
		for _, v := range m {
			switch v.(type) {
			case []any, map[string]any:
				return v, nil
			}
		}
	}
	return data, nil
}

func statusError(op string, resp *http.Response, raw []byte) error {
	var env envelope
	msg := http.StatusText(resp.StatusCode)
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		msg = env.Message
	}

	switch code := resp.StatusCode; {
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return shared.NewDomainError("rest", op, shared.ErrValidation, msg)
	case code == http.StatusUnauthorized:
		return shared.NewDomainError("rest", op, shared.ErrUnauthorized, msg)
	case code == http.StatusForbidden:
		return shared.NewDomainError("rest", op, shared.ErrForbidden, msg)
	case code == http.StatusNotFound:
		return shared.NewDomainError("rest", op, shared.ErrNotFound, msg)
	case code == http.StatusConflict:
		return shared.NewDomainError("rest", op, shared.ErrAlreadyExists, msg)
	case code == http.StatusTooManyRequests:
		err := shared.NewDomainError("rest", op, shared.ErrServiceUnavailable, msg)
		if s, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && s > 0 {
			err.Message = fmt.Sprintf("%s (retry after %ds)", msg, s)
		}
		return err
	case code >= 500:
		return shared.NewDomainError("rest", op, shared.ErrServiceUnavailable, msg)
	default:
		return shared.NewDomainError("rest", op, shared.ErrInvalidInput, msg)
	}
}
