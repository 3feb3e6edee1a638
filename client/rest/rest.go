/*
Package rest provides the HTTP transport for the HyperETH gateway: JSON
requests with the x-api-key header, the env query parameter, and retries on
transient upstream failures.
*/
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/hypereth-io/hypereth-sdk-go/common"
)

const (
	DefaultBaseURL = "https://api.hypereth.io"

	defaultTimeout = 30 * time.Second

	userAgent = "HyperETH-Go-SDK/0.1.0"

	// Transient upstream failures are retried up to maxRetries times, with
	// retryBackoff doubling after each attempt.
	maxRetries   = 3
	retryBackoff = 1 * time.Second
)

// retryableStatuses are the response codes worth retrying: rate limiting and
// upstream hiccups.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Params contains options for the REST client.
type Params struct {
	// BaseURL is the gateway URL to use. If empty, production will be used
	// (DefaultBaseURL).
	BaseURL string

	// APIKey, when non-empty, is sent as the x-api-key header on every
	// request.
	APIKey string

	// Environment is appended to every request as an env query parameter
	// when non-empty.
	Environment string

	// Timeout bounds each individual HTTP attempt; defaults to 30 seconds.
	Timeout time.Duration

	// Logger receives request diagnostics. The zero value is disabled.
	Logger zerolog.Logger
}

// Client is an HTTP client for the HyperETH gateway.
type Client struct {
	params     Params
	httpClient *http.Client
	log        zerolog.Logger
}

// New creates a new REST client with the given params.
func New(params *Params) *Client {
	if params == nil {
		params = &Params{}
	}

	c := &Client{
		params: *params,
		log:    params.Logger,
	}

	if c.params.BaseURL == "" {
		c.params.BaseURL = DefaultBaseURL
	}
	c.params.BaseURL = strings.TrimRight(c.params.BaseURL, "/")

	if c.params.Timeout == 0 {
		c.params.Timeout = defaultTimeout
	}

	c.httpClient = &http.Client{Timeout: c.params.Timeout}

	return c
}

// BaseURL returns the gateway URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.params.BaseURL
}

// Get performs a GET request and unmarshals the response into out (unless
// out is nil).
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	return errors.Trace(c.do(ctx, http.MethodGet, endpoint, query, nil, out))
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body, out interface{}) error {
	return errors.Trace(c.do(ctx, http.MethodPost, endpoint, nil, body, out))
}

// Delete performs a DELETE request with a JSON body.
func (c *Client) Delete(ctx context.Context, endpoint string, body, out interface{}) error {
	return errors.Trace(c.do(ctx, http.MethodDelete, endpoint, nil, body, out))
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out interface{}) error {
	reqURL, err := c.buildURL(endpoint, query)
	if err != nil {
		return errors.Trace(err)
	}

	var bodyData []byte
	if body != nil {
		bodyData, err = json.Marshal(body)
		if err != nil {
			return errors.Annotatef(err, "marshalling request body")
		}
	}

	var lastErr error

	for attempt := 0; ; attempt++ {
		respStatus, respBody, err := c.doOnce(ctx, method, reqURL, bodyData)
		if err != nil {
			lastErr = errors.Annotatef(err, "%s %s", method, endpoint)
		} else if retryableStatuses[respStatus] {
			lastErr = errors.Trace(newAPIError(respStatus, respBody))
		} else {
			if respStatus >= 400 {
				return errors.Trace(newAPIError(respStatus, respBody))
			}

			if out != nil {
				if err := json.Unmarshal(respBody, out); err != nil {
					return errors.Annotatef(err, "unmarshalling %s %s response", method, endpoint)
				}
			}

			return nil
		}

		if attempt >= maxRetries {
			return errors.Trace(lastErr)
		}

		backoff := retryBackoff << uint(attempt)
		c.log.Debug().
			Str("method", method).
			Str("endpoint", endpoint).
			Dur("backoff", backoff).
			Err(lastErr).
			Msg("retrying request")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		}
	}
}

// doOnce performs a single HTTP attempt and returns the status code with the
// full response body.
func (c *Client) doOnce(ctx context.Context, method, reqURL string, body []byte) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return 0, nil, errors.Trace(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.params.APIKey != "" {
		req.Header.Set("x-api-key", c.params.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.Trace(err)
	}
	defer resp.Body.Close()

	if requestID := resp.Header.Get("x-request-id"); requestID != "" {
		c.log.Debug().Str("request_id", requestID).Int("status", resp.StatusCode).Msg("gateway response")
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Annotatef(err, "reading response body")
	}

	return resp.StatusCode, respBody, nil
}

func (c *Client) buildURL(endpoint string, query url.Values) (string, error) {
	u, err := url.Parse(c.params.BaseURL + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", errors.Annotatef(err, "parsing endpoint %q", endpoint)
	}

	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if c.params.Environment != "" && q.Get("env") == "" {
		q.Set("env", c.params.Environment)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// newAPIError builds a *common.APIError from a non-2xx response. The message
// is taken from the body's "message" field when the body is JSON; otherwise
// the raw body (or the bare status) is used.
func newAPIError(status int, body []byte) *common.APIError {
	msg := fmt.Sprintf("HTTP %d", status)

	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		msg = parsed.Message
	} else if len(body) > 0 && !json.Valid(body) {
		msg = strings.TrimSpace(string(body))
	}

	return &common.APIError{
		Message:    msg,
		StatusCode: status,
		Response:   body,
	}
}
