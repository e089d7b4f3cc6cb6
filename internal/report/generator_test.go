package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportflow/internal/types"
)

func testRequest() types.GenerateRequest {
	return types.GenerateRequest{
		ReportID:   "rpt_1",
		ReportType: "sales_summary",
		Format:     types.FormatPDF,
	}
}

func noSleep(c *Client) { c.sleepFn = func(time.Duration) {} }

func TestGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/reports/sales_summary/generate", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "rpt_1", body["report_id"])
		assert.Equal(t, "PDF", body["format"])

		json.NewEncoder(w).Encode(map[string]any{
			"report_id":    "rpt_1",
			"report_type":  "sales_summary",
			"generated_at": time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			"metrics":      map[string]float64{"revenue": 1000},
			"artifact":     []byte("%PDF-1.7"),
			"filename":     "sales.pdf",
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: types.SecretString("sk_test")})

	payload, err := c.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "rpt_1", payload.ReportID)
	assert.Equal(t, float64(1000), payload.Metrics["revenue"])
	assert.Equal(t, []byte("%PDF-1.7"), payload.Artifact)
	assert.Equal(t, "sales.pdf", payload.Filename)
}

func TestGenerate_ForwardsRequestID(t *testing.T) {
	var header atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("X-Request-Id"))
		json.NewEncoder(w).Encode(map[string]any{"report_id": "rpt_1"})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})

	ctx := types.WithRequestID(context.Background(), "req_abc123")
	_, err := c.Generate(ctx, testRequest())
	require.NoError(t, err)
	assert.Equal(t, "req_abc123", header.Load())
}

func TestGenerate_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})

	_, err := c.Generate(context.Background(), testRequest())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamGenerator, appErr.Code)
}

func TestGenerate_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"report_id": "rpt_1"})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, MaxRetries: 3}, noSleep)

	payload, err := c.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "rpt_1", payload.ReportID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerate_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, MaxRetries: 2}, noSleep)

	_, err := c.Generate(context.Background(), testRequest())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamGenerator, appErr.Code)
}

func TestGenerate_RateLimitMapsToRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var waits []time.Duration
	c := NewClient(ClientConfig{BaseURL: srv.URL, MaxRetries: 1}, WithSleepFunc(func(d time.Duration) {
		waits = append(waits, d)
	}))

	_, err := c.Generate(context.Background(), testRequest())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)

	// Retry-After steers the backoff.
	require.Len(t, waits, 1)
	assert.Equal(t, time.Second, waits[0])
}

func TestGenerate_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL}, noSleep)

	for i := 0; i < 6; i++ {
		_, err := c.Generate(context.Background(), testRequest())
		require.Error(t, err)
	}

	// Breaker is now open; the request never reaches the server.
	_, err := c.Generate(context.Background(), testRequest())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
}
