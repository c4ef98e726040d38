// Package upstream talks to the cloud-code v1internal API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/tidwall/gjson"

	"github.com/af-corp/antigravity-gateway/internal/config"
	"github.com/af-corp/antigravity-gateway/internal/router"
	"github.com/af-corp/antigravity-gateway/internal/telemetry"
	"github.com/af-corp/antigravity-gateway/internal/types"
)

const (
	pathGenerate         = "/v1internal:generateContent"
	pathStream           = "/v1internal:streamGenerateContent?alt=sse"
	pathLoadCodeAssist   = "/v1internal:loadCodeAssist"
	pathAvailableModels  = "/v1internal:fetchAvailableModels"
	defaultClientVersion = "1.11.5"
	maxErrorBodyRead     = 64 << 10
)

var ErrNoEndpoints = errors.New("no upstream endpoints configured")

// UserAgent is the header value the upstream expects from the desktop client.
func UserAgent(version string) string {
	if version == "" {
		version = defaultClientVersion
	}
	return fmt.Sprintf("antigravity/%s %s/%s", version, runtime.GOOS, runtime.GOARCH)
}

// Client sends v1internal requests, trying endpoints in order.
type Client struct {
	endpoints *router.Endpoints
	http      *http.Client
	stream    *http.Client
	userAgent string
	metrics   *telemetry.Metrics
}

func NewClient(cfg config.UpstreamConfig, endpoints *router.Endpoints, metrics *telemetry.Metrics) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &Client{
		endpoints: endpoints,
		http:      &http.Client{Timeout: cfg.Timeout, Transport: transport},
		// Streams are bounded by the request context instead of a client
		// timeout, which would cut long generations mid-body.
		stream:    &http.Client{Transport: transport},
		userAgent: UserAgent(cfg.ClientVersion),
		metrics:   metrics,
	}
}

// GenerateContent performs a non-streaming call.
func (c *Client) GenerateContent(ctx context.Context, accessToken string, req *types.UpstreamRequest) (*types.GeminiResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}
	resp, err := c.post(ctx, c.http, pathGenerate, accessToken, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	return DecodeResponse(data)
}

// StreamGenerateContent opens a streaming call. The returned body carries
// SSE frames; the caller closes it.
func (c *Client) StreamGenerateContent(ctx context.Context, accessToken string, req *types.UpstreamRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}
	resp, err := c.post(ctx, c.stream, pathStream, accessToken, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DecodeResponse parses a generateContent payload or stream chunk, which
// may be wrapped as {"response": {...}}.
func DecodeResponse(data []byte) (*types.GeminiResponse, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("decode upstream response: invalid JSON")
	}
	payload := data
	if inner := gjson.GetBytes(data, "response"); inner.IsObject() {
		payload = []byte(inner.Raw)
	}
	var out types.GeminiResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	return &out, nil
}

// post sends body to path on the first endpoint that answers. Network
// errors, 5xx and 429 move on to the next endpoint; other statuses are
// returned as *Error immediately. The response is only returned for 200.
func (c *Client) post(ctx context.Context, hc *http.Client, path, accessToken string, body []byte) (*http.Response, error) {
	eps := c.endpoints.List()
	if len(eps) == 0 {
		return nil, ErrNoEndpoints
	}

	var lastErr error
	attempted := false
	for i, ep := range eps {
		last := i == len(eps)-1
		if !c.endpoints.Allow(ep.Name) {
			// With every breaker open, still try the last endpoint.
			if !last || attempted {
				slog.Debug("skipping upstream endpoint with open circuit", "endpoint", ep.Name)
				continue
			}
		}
		attempted = true

		resp, err := c.send(ctx, hc, ep.BaseURL+path, accessToken, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.endpoints.RecordFailure(ep.Name)
			c.metrics.RecordUpstreamAttempt("network_error")
			slog.Warn("upstream request failed", "endpoint", ep.Name, "error", err)
			lastErr = fmt.Errorf("upstream %s: %w", ep.Name, err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			c.endpoints.RecordSuccess(ep.Name)
			c.metrics.RecordUpstreamAttempt("ok")
			return resp, nil
		}

		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyRead))
		resp.Body.Close()
		uerr := newError(resp.StatusCode, data)

		switch {
		case resp.StatusCode >= 500:
			c.endpoints.RecordFailure(ep.Name)
			c.metrics.RecordUpstreamAttempt("server_error")
			slog.Warn("upstream endpoint returned server error", "endpoint", ep.Name, "status", resp.StatusCode, "message", uerr.Message)
			lastErr = uerr
		case resp.StatusCode == http.StatusTooManyRequests:
			c.endpoints.RecordSuccess(ep.Name)
			c.metrics.RecordUpstreamAttempt("rate_limited")
			slog.Warn("upstream endpoint rate limited", "endpoint", ep.Name, "message", uerr.Message)
			lastErr = uerr
		default:
			c.endpoints.RecordSuccess(ep.Name)
			c.metrics.RecordUpstreamAttempt("client_error")
			return nil, uerr
		}
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, hc *http.Client, url, accessToken string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return hc.Do(req)
}
