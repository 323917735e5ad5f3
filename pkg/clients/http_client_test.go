package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/errors"
)

func testClient(maxRetries int) *HTTPClient {
	cfg := DefaultHTTPConfig()
	cfg.MaxRetries = maxRetries
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RateLimitRPS = 0
	return NewHTTPClient(cfg, zap.NewNop())
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"orders","count":3}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(0)
	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	err := c.GetJSON(context.Background(), srv.URL, map[string]string{"X-API-Key": "secret"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "orders", out.Name)
	assert.Equal(t, 3, out.Count)
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(5)
	var out map[string]interface{}
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`bad payload`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(5)
	err := c.GetJSON(context.Background(), srv.URL, nil, &map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Equal(t, int32(1), calls.Load())
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   errors.ErrorType
	}{
		{http.StatusUnauthorized, errors.ErrorTypeAuthentication},
		{http.StatusForbidden, errors.ErrorTypeAuthentication},
		{http.StatusBadRequest, errors.ErrorTypeData},
		{http.StatusUnprocessableEntity, errors.ErrorTypeData},
		{http.StatusNotFound, errors.ErrorTypeInternal},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := testClient(0)
		err := c.GetJSON(context.Background(), srv.URL, nil, &map[string]interface{}{})
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.want, errors.TypeOf(err), "status %d", tc.status)
		srv.Close()
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(0)
	err := c.GetJSON(context.Background(), srv.URL, nil, &map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))

	var appErr *errors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 42, appErr.Details["retry_after_seconds"])
}

func TestPostJSONSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"token":"t-1"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(0)
	var out struct {
		Token string `json:"token"`
	}
	err := c.PostJSON(context.Background(), srv.URL, nil, map[string]string{"user": "u"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "t-1", out.Token)
}

func TestContextCancellationStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.MaxRetries = 10
	cfg.RetryBaseDelay = time.Second
	cfg.RateLimitRPS = 0
	c := NewHTTPClient(cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.GetJSON(ctx, srv.URL, nil, &map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}