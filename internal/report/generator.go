// Package report is the anti-corruption layer between the dispatch pipeline
// and the upstream report generation service. All outbound calls go through
// a shared circuit breaker so a struggling generator sheds load instead of
// absorbing every schedule's retries at once.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"reportflow/internal/types"
)

// maxArtifactBytes caps the decoded artifact size. The generator renders
// whole reports in one response; anything past this is a generator bug, not
// a bigger report.
const maxArtifactBytes = 64 << 20

// ClientConfig configures the generator client.
type ClientConfig struct {
	BaseURL    string
	APIKey     types.SecretString
	Timeout    time.Duration
	MaxRetries int
}

// Client calls the report generation service over HTTP. It implements
// types.ReportGenerator.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	sleepFn func(time.Duration)
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithSleepFunc overrides the sleep function used between retries.
// This is intended for testing to avoid real delays.
func WithSleepFunc(fn func(time.Duration)) ClientOption {
	return func(c *Client) {
		c.sleepFn = fn
	}
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a generator client. The circuit breaker trips after
// five consecutive failures and probes again after 30 seconds.
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "report-generator",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: cb,
		sleepFn: time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// generateRequest is the wire format of the generation call.
type generateRequest struct {
	ReportID   string         `json:"report_id"`
	Format     string         `json:"format"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// generateResponse is the wire format of a successful generation.
type generateResponse struct {
	ReportID    string             `json:"report_id"`
	ReportType  string             `json:"report_type"`
	GeneratedAt time.Time          `json:"generated_at"`
	Metrics     map[string]float64 `json:"metrics"`
	Artifact    []byte             `json:"artifact"`
	Filename    string             `json:"filename"`
}

// Generate renders the report identified by req. Transient upstream
// failures (429, 5xx, transport errors) are retried with the Retry-After
// header honored when present; 4xx responses and an open breaker are
// surfaced immediately as AppErrors.
func (c *Client) Generate(ctx context.Context, req types.GenerateRequest) (*types.ReportPayload, error) {
	body, err := json.Marshal(generateRequest{
		ReportID:   req.ReportID,
		Format:     string(req.Format),
		Parameters: req.Parameters,
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode generate request", err)
	}

	endpoint := fmt.Sprintf("%s/v1/reports/%s/generate",
		c.cfg.BaseURL, url.PathEscape(req.ReportType))

	var lastResp *http.Response
	var lastErr error

	maxAttempts := 1 + c.cfg.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if reqErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build generate request", reqErr)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if key := c.cfg.APIKey.Unmask(); key != "" {
			httpReq.Header.Set("Authorization", "Bearer "+key)
		}
		if traceID := types.GetRequestID(ctx); traceID != "" {
			httpReq.Header.Set("X-Request-Id", traceID)
		}

		resp, execErr := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.http.Do(httpReq)
			if doErr != nil {
				return nil, doErr
			}
			// 5xx and 429 count against the breaker.
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("generator returned %d", r.StatusCode)
			}
			return r, nil
		})

		if execErr == nil {
			return c.decode(req, resp)
		}
		lastErr = execErr

		if resp != nil {
			if attempt < maxAttempts-1 {
				io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		// An open breaker means the generator is already known bad; retrying
		// here would just wait out the probe window.
		if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if attempt < maxAttempts-1 {
			c.sleepFn(retryWait(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, mapError(lastResp, lastErr)
}

// decode parses a non-error generator response into a payload.
func (c *Client) decode(req types.GenerateRequest, resp *http.Response) (*types.ReportPayload, error) {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppError(types.ErrCodeUpstreamGenerator,
			fmt.Sprintf("report %s not found upstream", req.ReportID), nil)
	}
	if resp.StatusCode >= 400 {
		return nil, types.NewAppError(types.ErrCodeUpstreamGenerator,
			fmt.Sprintf("generator rejected request with status %d", resp.StatusCode), nil)
	}

	var wire generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxArtifactBytes)).Decode(&wire); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamGenerator, "failed to decode generator response", err)
	}

	payload := &types.ReportPayload{
		ReportID:    wire.ReportID,
		ReportType:  wire.ReportType,
		GeneratedAt: wire.GeneratedAt,
		Metrics:     wire.Metrics,
		Artifact:    wire.Artifact,
		Filename:    wire.Filename,
	}
	if payload.ReportID == "" {
		payload.ReportID = req.ReportID
	}
	if payload.ReportType == "" {
		payload.ReportType = req.ReportType
	}
	return payload, nil
}

// retryWait honors Retry-After when present, otherwise backs off
// exponentially from one second.
func retryWait(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				wait := time.Duration(seconds) * time.Second
				if wait > 30*time.Second {
					wait = 30 * time.Second
				}
				return wait
			}
		}
	}
	wait := time.Second << attempt
	if wait > 30*time.Second {
		wait = 30 * time.Second
	}
	return wait
}

// mapError translates HTTP-level failures into domain-level AppErrors.
func mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"circuit breaker is open; generator unavailable", err)
	}
	if resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return types.NewAppError(types.ErrCodeUpstreamRateLimited,
				"generator rate limit exceeded", err)
		}
		return types.NewAppError(types.ErrCodeUpstreamGenerator,
			fmt.Sprintf("generator returned status %d", resp.StatusCode), err)
	}
	return types.NewAppError(types.ErrCodeUpstreamGenerator, "generator request failed", err)
}

// compile-time interface check
var _ types.ReportGenerator = (*Client)(nil)
