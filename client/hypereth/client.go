/*
Package hypereth is the top-level HyperETH gateway client: API key
management signed by the user's wallet, generic trade intents over REST and
websocket, and access to the per-venue facades.
*/
package hypereth

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/hypereth-io/hypereth-sdk-go/client/rest"
	"github.com/hypereth-io/hypereth-sdk-go/client/websocket"
	"github.com/hypereth-io/hypereth-sdk-go/common"
	"github.com/hypereth-io/hypereth-sdk-go/venues/asterdex"
	"github.com/hypereth-io/hypereth-sdk-go/venues/hyperliquid"
	"github.com/hypereth-io/hypereth-sdk-go/wallet"
)

const (
	DefaultBaseURL = "https://api.hypereth.io"
	DefaultWSURL   = "wss://api.hypereth.io/ws"

	// DefaultEnvironment is testnet; the gateway only takes an env
	// parameter for testnet, mainnet is the unmarked default.
	DefaultEnvironment = "testnet"
)

// Params contains options for the gateway client.
type Params struct {
	// BaseURL of the gateway REST API; DefaultBaseURL if empty.
	BaseURL string

	// WSURL of the gateway websocket API; DefaultWSURL if empty. Venue
	// websocket URLs are derived from it.
	WSURL string

	// Environment selects testnet or mainnet; DefaultEnvironment if empty.
	Environment string

	// PrivateKey is the user wallet key, hex with or without 0x. Optional:
	// without it, API key management is unavailable.
	PrivateKey string

	// APIKey authenticates all transports against the gateway.
	APIKey string

	// HyperliquidSigner signs Hyperliquid /exchange actions; see
	// hyperliquid.ActionSigner.
	HyperliquidSigner hyperliquid.ActionSigner

	ReconnectOpts *websocket.ReconnectOpts

	Logger zerolog.Logger
}

// Client is the main gateway client.
//
// HL and Aster are the venue facades, configured with the same gateway
// credentials and derived URLs.
type Client struct {
	HL    *hyperliquid.Client
	Aster *asterdex.Client

	params Params
	rest   *rest.Client
	ws     *websocket.Client
	signer *wallet.Signer
	log    zerolog.Logger
}

// New creates a gateway client. Nothing connects until Connect is called;
// REST methods are usable right away.
func New(params *Params) (*Client, error) {
	p := *params

	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	if p.WSURL == "" {
		p.WSURL = DefaultWSURL
	}
	if p.Environment == "" {
		p.Environment = DefaultEnvironment
	}

	// Only testnet is marked with a query parameter.
	envParam := ""
	if p.Environment == "testnet" {
		envParam = "testnet"
	}

	var signer *wallet.Signer
	if p.PrivateKey != "" {
		var err error
		signer, err = wallet.NewSigner(p.PrivateKey)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	ws, err := websocket.New(&websocket.Params{
		URL:           p.WSURL,
		Environment:   envParam,
		APIKey:        p.APIKey,
		ReconnectOpts: p.ReconnectOpts,
		Logger:        p.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	hl, err := hyperliquid.New(&hyperliquid.Params{
		BaseURL:       p.BaseURL + "/v1/hl",
		WSURL:         deriveWSURL(p.WSURL, "/v1/hl/ws"),
		APIKey:        p.APIKey,
		Environment:   envParam,
		ReconnectOpts: p.ReconnectOpts,
		Signer:        p.HyperliquidSigner,
		Logger:        p.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	aster, err := asterdex.New(&asterdex.Params{
		BaseURL:       p.BaseURL + "/v1/aster",
		APIKey:        p.APIKey,
		PerpWSURL:     deriveWSURL(p.WSURL, "/v1/aster/perp/ws"),
		SpotWSURL:     deriveWSURL(p.WSURL, "/v1/aster/spot/ws"),
		ReconnectOpts: p.ReconnectOpts,
		Logger:        p.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &Client{
		HL:    hl,
		Aster: aster,

		params: p,
		rest: rest.New(&rest.Params{
			BaseURL:     p.BaseURL,
			APIKey:      p.APIKey,
			Environment: envParam,
			Logger:      p.Logger,
		}),
		ws:     ws,
		signer: signer,
		log:    p.Logger,
	}, nil
}

// deriveWSURL rewrites the gateway websocket URL to a venue-specific path.
func deriveWSURL(wsURL, path string) string {
	if strings.Contains(wsURL, path) {
		return wsURL
	}
	return strings.Replace(wsURL, "/ws", path, 1)
}

// WS returns the gateway websocket session.
func (c *Client) WS() *websocket.Client {
	return c.ws
}

// Connect establishes the gateway websocket session and the Hyperliquid
// one, priming the venue metadata cache. The AsterDex streams connect
// separately, see asterdex.Client.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.ws.ConnectWait(ctx); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(c.HL.Connect(ctx))
}

// Close shuts down every connection owned by the client.
func (c *Client) Close() error {
	err := c.ws.Close()

	if hlErr := c.HL.Close(); err == nil {
		err = hlErr
	}
	if asterErr := c.Aster.CloseWS(); err == nil {
		err = asterErr
	}

	return errors.Trace(err)
}

// WalletAddress returns the user wallet address.
func (c *Client) WalletAddress() (string, error) {
	if c.signer == nil {
		return "", errors.New("no wallet initialized, private key required")
	}

	return c.signer.Address(), nil
}

// BuilderFeeInfo returns the builder address and fee which must be approved
// on Hyperliquid before registering an API key.
func (c *Client) BuilderFeeInfo() hyperliquid.BuilderFeeInfo {
	return hyperliquid.ApproveBuilderFeeData()
}

// ------------------------------------------------------------------
// API key management
// ------------------------------------------------------------------

// apiKeyWire mirrors the gateway's API key management responses.
type apiKeyWire struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	APIKey  string `json:"api_key"`

	APIKeys []struct {
		APIKey    string `json:"api_key"`
		CreatedAt string `json:"created_at"`
		LastUsed  string `json:"last_used"`
		IsActive  *bool  `json:"is_active"`
	} `json:"api_keys"`
}

func (w *apiKeyWire) success() bool {
	return w.Success == nil || *w.Success
}

// RegisterAPIKey registers a new API key for the wallet. The wallet must be
// whitelisted and have the builder fee approved, see BuilderFeeInfo.
func (c *Client) RegisterAPIKey(ctx context.Context) (*common.APIKeyResponse, error) {
	if c.signer == nil {
		return nil, errors.New("no wallet initialized, private key required")
	}

	nonce := c.signer.Nonce()
	_, signature, err := c.signer.SignRegistration(nonce)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var res apiKeyWire
	if err := c.rest.Post(ctx, "/v1/api_key/register", map[string]interface{}{
		"signature": signature,
		"nonce":     nonce,
	}, &res); err != nil {
		return nil, errors.Annotatef(err, "registering api key")
	}

	out := &common.APIKeyResponse{
		Success: res.success(),
		Message: res.Message,
	}
	if out.Message == "" {
		out.Message = "API key registered successfully"
	}

	if res.APIKey != "" {
		out.APIKey = &common.APIKey{
			Key:       res.APIKey,
			CreatedAt: time.Now().UTC(),
			IsActive:  true,
		}
	}

	return out, nil
}

// ListAPIKeys lists the wallet's API keys.
func (c *Client) ListAPIKeys(ctx context.Context) (*common.APIKeyResponse, error) {
	if c.signer == nil {
		return nil, errors.New("no wallet initialized, private key required")
	}

	nonce := c.signer.Nonce()
	_, signature, err := c.signer.SignList(nonce)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var res apiKeyWire
	if err := c.rest.Post(ctx, "/v1/api_key/list", map[string]interface{}{
		"signature": signature,
		"nonce":     nonce,
	}, &res); err != nil {
		return nil, errors.Annotatef(err, "listing api keys")
	}

	out := &common.APIKeyResponse{
		Success: res.success(),
		Message: res.Message,
	}

	for _, k := range res.APIKeys {
		key := common.APIKey{
			Key:      k.APIKey,
			IsActive: k.IsActive == nil || *k.IsActive,
		}

		// Timestamps are best-effort; a malformed one leaves the zero value.
		if t, err := time.Parse(time.RFC3339, k.CreatedAt); err == nil {
			key.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339, k.LastUsed); err == nil {
			key.LastUsed = t
		}

		out.APIKeys = append(out.APIKeys, key)
	}

	return out, nil
}

// DeleteAPIKey deletes one of the wallet's API keys.
func (c *Client) DeleteAPIKey(ctx context.Context, apiKey string) (*common.APIKeyResponse, error) {
	if c.signer == nil {
		return nil, errors.New("no wallet initialized, private key required")
	}
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}

	nonce := c.signer.Nonce()
	_, signature, err := c.signer.SignDelete(apiKey, nonce)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var res apiKeyWire
	if err := c.rest.Delete(ctx, "/v1/api_key", map[string]interface{}{
		"api_key_to_delete": apiKey,
		"signature":         signature,
		"nonce":             nonce,
	}, &res); err != nil {
		return nil, errors.Annotatef(err, "deleting api key")
	}

	return &common.APIKeyResponse{
		Success: res.success(),
		Message: res.Message,
	}, nil
}

// ------------------------------------------------------------------
// Trade intents
// ------------------------------------------------------------------

// HyperliquidIntent is the trade intent payload for Hyperliquid: a signed
// venue action executed by the given agent wallet.
type HyperliquidIntent struct {
	Action      interface{} `json:"hl_action"`
	AgentWallet string      `json:"hl_agent_wallet"`
	Nonce       int64       `json:"nonce"`
}

// SubmitTradeIntent submits a trade intent over REST. For Hyperliquid, pass
// a *HyperliquidIntent; other venues take their own payload shapes.
func (c *Client) SubmitTradeIntent(ctx context.Context, payload interface{}) (json.RawMessage, error) {
	var res json.RawMessage
	if err := c.rest.Post(ctx, "/v1/trade/intent", payload, &res); err != nil {
		return nil, errors.Annotatef(err, "submitting trade intent")
	}

	return res, nil
}

// SubmitTradeIntentWS submits a trade intent over the gateway websocket
// session.
func (c *Client) SubmitTradeIntentWS(ctx context.Context, payload interface{}) (json.RawMessage, error) {
	res, err := c.ws.Post(ctx, "trade_intent", payload)
	return res, errors.Annotatef(err, "submitting trade intent")
}
