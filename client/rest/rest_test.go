package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypereth-io/hypereth-sdk-go/common"
)

func TestRequestHeadersAndEnv(t *testing.T) {
	var gotReq *http.Request

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := *r
		r2.Header = r.Header.Clone()
		gotReq = &r2

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	}))
	defer ts.Close()

	c := New(&Params{
		BaseURL:     ts.URL,
		APIKey:      "test-key-123",
		Environment: "testnet",
	})

	var out struct {
		Success bool `json:"success"`
	}
	err := c.Get(context.Background(), "/v1/api_key", url.Values{"foo": {"bar"}}, &out)
	require.NoError(t, err)
	require.NotNil(t, gotReq)

	assert.True(t, out.Success)
	assert.Equal(t, "/v1/api_key", gotReq.URL.Path)
	assert.Equal(t, "testnet", gotReq.URL.Query().Get("env"))
	assert.Equal(t, "bar", gotReq.URL.Query().Get("foo"))
	assert.Equal(t, "test-key-123", gotReq.Header.Get("x-api-key"))
	assert.Equal(t, "application/json", gotReq.Header.Get("Content-Type"))
}

func TestPostBody(t *testing.T) {
	var gotBody map[string]interface{}
	var gotMethod string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	c := New(&Params{BaseURL: ts.URL})

	err := c.Post(context.Background(), "v1/trade/intent", map[string]string{
		"nonce": "1234",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "1234", gotBody["nonce"])
}

func TestRetryOnTransientFailure(t *testing.T) {
	attempts := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer ts.Close()

	c := New(&Params{BaseURL: ts.URL})

	var out struct {
		Success bool `json:"success"`
	}
	err := c.Get(context.Background(), "/v1/health", nil, &out)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 2, attempts)
}

func TestNoRetryOnClientError(t *testing.T) {
	attempts := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid API key"}`))
	}))
	defer ts.Close()

	c := New(&Params{BaseURL: ts.URL})

	err := c.Get(context.Background(), "/v1/api_key", nil, nil)
	require.Error(t, err)

	apiErr, ok := errors.Cause(err).(*common.APIError)
	require.True(t, ok, "want *common.APIError, got %T", errors.Cause(err))

	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid API key", apiErr.Message)
	assert.Equal(t, 1, attempts, "client errors must not be retried")
}

func TestNonJSONErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("access denied"))
	}))
	defer ts.Close()

	c := New(&Params{BaseURL: ts.URL})

	err := c.Get(context.Background(), "/v1/api_key", nil, nil)
	require.Error(t, err)

	apiErr, ok := errors.Cause(err).(*common.APIError)
	require.True(t, ok)

	assert.Equal(t, "access denied", apiErr.Message)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestContextCancelDuringBackoff(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := New(&Params{BaseURL: ts.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Get(ctx, "/v1/health", nil, nil)
	require.Error(t, err)
	assert.Equal(t, context.Canceled, errors.Cause(err))
}
