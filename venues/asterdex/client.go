/*
Package asterdex is the AsterDex venue facade: a passthrough to the venue's
spot ("api") and futures ("fapi") REST endpoints through the HyperETH
gateway, plus Binance-style websocket stream subscriptions for both markets.
*/
package asterdex

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/hypereth-io/hypereth-sdk-go/client/rest"
	"github.com/hypereth-io/hypereth-sdk-go/client/websocket"
)

const (
	DefaultBaseURL   = "https://api.hypereth.io/v1/aster"
	DefaultPerpWSURL = "wss://api.hypereth.io/v1/aster/perp/ws"
	DefaultSpotWSURL = "wss://api.hypereth.io/v1/aster/spot/ws"
)

// APIType selects which venue API an endpoint belongs to.
type APIType string

const (
	// APITypeFutures routes to the futures API ("fapi").
	APITypeFutures APIType = "fapi"

	// APITypeSpot routes to the spot API ("api").
	APITypeSpot APIType = "api"
)

// Params contains options for the AsterDex client.
type Params struct {
	// BaseURL is the gateway's AsterDex REST proxy; DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the HyperETH gateway key sent as x-api-key.
	APIKey string

	// VenueAPIKey and VenueAPISecret are the AsterDex credentials used for
	// SIGNED endpoints (HMAC SHA256 over the query string).
	VenueAPIKey    string
	VenueAPISecret string

	PerpWSURL string
	SpotWSURL string

	ReconnectOpts *websocket.ReconnectOpts

	Logger zerolog.Logger
}

// Client talks to AsterDex through the HyperETH gateway.
type Client struct {
	params Params
	rest   *rest.Client
	log    zerolog.Logger

	perpWS *websocket.Client
	spotWS *websocket.Client

	// nextStreamID numbers SUBSCRIBE/UNSUBSCRIBE frames; the venue echoes
	// the id in its acks.
	nextStreamID int64
}

// streamRequest is the venue's websocket control frame.
type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// New creates an AsterDex client. The websocket sides connect lazily via
// ConnectPerpWS / ConnectSpotWS.
func New(params *Params) (*Client, error) {
	p := *params

	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	if p.PerpWSURL == "" {
		p.PerpWSURL = DefaultPerpWSURL
	}
	if p.SpotWSURL == "" {
		p.SpotWSURL = DefaultSpotWSURL
	}

	// The venue takes no environment parameter, so none is configured here.
	perpWS, err := websocket.New(&websocket.Params{
		URL:           p.PerpWSURL,
		APIKey:        p.APIKey,
		ReconnectOpts: p.ReconnectOpts,
		Logger:        p.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	spotWS, err := websocket.New(&websocket.Params{
		URL:           p.SpotWSURL,
		APIKey:        p.APIKey,
		ReconnectOpts: p.ReconnectOpts,
		Logger:        p.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &Client{
		params: p,
		rest: rest.New(&rest.Params{
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Logger:  p.Logger,
		}),
		log: p.Logger,

		perpWS: perpWS,
		spotWS: spotWS,
	}, nil
}

// Request performs one venue API call. Signed endpoints get a millisecond
// timestamp and an HMAC SHA256 signature over the encoded query string,
// keyed with the venue API secret.
func (c *Client) Request(ctx context.Context, apiType APIType, method, endpoint string, query url.Values, body interface{}, signed bool) (json.RawMessage, error) {
	if query == nil {
		query = url.Values{}
	}

	if signed {
		if c.params.VenueAPISecret == "" {
			return nil, errors.New("venue api secret is required for signed endpoints")
		}

		if query.Get("timestamp") == "" {
			query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		}
		query.Set("signature", c.signQuery(query))
	}

	fullEndpoint := "/" + string(apiType) + "/" + strings.TrimLeft(endpoint, "/")

	var res json.RawMessage
	var err error

	switch method {
	case "GET":
		err = c.rest.Get(ctx, fullEndpoint, query, &res)
	case "POST":
		err = c.rest.Post(ctx, fullEndpoint+querySuffix(query), body, &res)
	case "DELETE":
		err = c.rest.Delete(ctx, fullEndpoint+querySuffix(query), body, &res)
	default:
		return nil, errors.Errorf("unsupported method %q", method)
	}

	return res, errors.Annotatef(err, "asterdex request")
}

// signQuery returns the hex HMAC SHA256 of the encoded query string.
func (c *Client) signQuery(query url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.params.VenueAPISecret))
	mac.Write([]byte(query.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func querySuffix(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	return "?" + query.Encode()
}

// FuturesGet performs a GET against the futures API.
func (c *Client) FuturesGet(ctx context.Context, endpoint string, query url.Values, signed bool) (json.RawMessage, error) {
	return c.Request(ctx, APITypeFutures, "GET", endpoint, query, nil, signed)
}

// FuturesPost performs a POST against the futures API.
func (c *Client) FuturesPost(ctx context.Context, endpoint string, query url.Values, body interface{}, signed bool) (json.RawMessage, error) {
	return c.Request(ctx, APITypeFutures, "POST", endpoint, query, body, signed)
}

// FuturesDelete performs a DELETE against the futures API.
func (c *Client) FuturesDelete(ctx context.Context, endpoint string, query url.Values, body interface{}, signed bool) (json.RawMessage, error) {
	return c.Request(ctx, APITypeFutures, "DELETE", endpoint, query, body, signed)
}

// SpotGet performs a GET against the spot API.
func (c *Client) SpotGet(ctx context.Context, endpoint string, query url.Values, signed bool) (json.RawMessage, error) {
	return c.Request(ctx, APITypeSpot, "GET", endpoint, query, nil, signed)
}

// SpotPost performs a POST against the spot API.
func (c *Client) SpotPost(ctx context.Context, endpoint string, query url.Values, body interface{}, signed bool) (json.RawMessage, error) {
	return c.Request(ctx, APITypeSpot, "POST", endpoint, query, body, signed)
}

// ------------------------------------------------------------------
// Websocket streams
// ------------------------------------------------------------------

// PerpWS returns the futures stream session, e.g. to register push
// listeners.
func (c *Client) PerpWS() *websocket.Client {
	return c.perpWS
}

// SpotWS returns the spot stream session.
func (c *Client) SpotWS() *websocket.Client {
	return c.spotWS
}

// ConnectPerpWS establishes the futures stream connection.
func (c *Client) ConnectPerpWS(ctx context.Context) error {
	return errors.Trace(c.perpWS.ConnectWait(ctx))
}

// ConnectSpotWS establishes the spot stream connection.
func (c *Client) ConnectSpotWS(ctx context.Context) error {
	return errors.Trace(c.spotWS.ConnectWait(ctx))
}

// CloseWS shuts down both stream connections; sessions which were never
// connected are skipped.
func (c *Client) CloseWS() error {
	if err := c.perpWS.Close(); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.spotWS.Close())
}

// SubscribePerpStreams subscribes to futures streams, e.g.
// "btcusdt@aggTrade" or "btcusdt@depth".
func (c *Client) SubscribePerpStreams(ctx context.Context, streams []string) error {
	return errors.Trace(c.sendStreamRequest(ctx, c.perpWS, "SUBSCRIBE", streams))
}

// UnsubscribePerpStreams unsubscribes from futures streams.
func (c *Client) UnsubscribePerpStreams(ctx context.Context, streams []string) error {
	return errors.Trace(c.sendStreamRequest(ctx, c.perpWS, "UNSUBSCRIBE", streams))
}

// SubscribeSpotStreams subscribes to spot streams, e.g. "btcusdt@trade".
func (c *Client) SubscribeSpotStreams(ctx context.Context, streams []string) error {
	return errors.Trace(c.sendStreamRequest(ctx, c.spotWS, "SUBSCRIBE", streams))
}

// UnsubscribeSpotStreams unsubscribes from spot streams.
func (c *Client) UnsubscribeSpotStreams(ctx context.Context, streams []string) error {
	return errors.Trace(c.sendStreamRequest(ctx, c.spotWS, "UNSUBSCRIBE", streams))
}

func (c *Client) sendStreamRequest(ctx context.Context, ws *websocket.Client, method string, streams []string) error {
	req := &streamRequest{
		Method: method,
		Params: streams,
		ID:     atomic.AddInt64(&c.nextStreamID, 1),
	}

	if err := ws.SendJSON(ctx, req); err != nil {
		return errors.Annotatef(err, "%s %v", method, streams)
	}

	c.log.Debug().Str("method", method).Strs("streams", streams).Int64("id", req.ID).Msg("sent stream request")

	return nil
}
