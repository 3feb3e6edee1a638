/*
Package hyperliquid is the Hyperliquid venue facade: typed /info queries,
order placement and cancellation through the venue's /exchange endpoint, and
websocket subscriptions, all routed through the HyperETH gateway proxy.
*/
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/hypereth-io/hypereth-sdk-go/client/rest"
	"github.com/hypereth-io/hypereth-sdk-go/client/websocket"
)

const (
	DefaultBaseURL = "https://api.hypereth.io/v1/hl"
	DefaultWSURL   = "wss://api.hypereth.io/v1/hl/ws"

	// defaultSzDecimals is assumed for assets missing from the cached
	// metadata.
	defaultSzDecimals = 4

	// minNotional is the venue's minimum order value in USD; undersized
	// orders are bumped to bumpNotional so rounding can't push them back
	// under the limit.
	minNotional  = 10
	bumpNotional = 11
)

// Params contains options for the Hyperliquid client.
type Params struct {
	// BaseURL is the gateway's Hyperliquid REST proxy; DefaultBaseURL if
	// empty.
	BaseURL string

	// WSURL is the gateway's Hyperliquid websocket proxy; DefaultWSURL if
	// empty.
	WSURL string

	// APIKey authenticates both transports against the gateway.
	APIKey string

	// Environment selects the venue environment (e.g. "testnet"); mainnet
	// rules apply to action signing when it's anything else.
	Environment string

	ReconnectOpts *websocket.ReconnectOpts

	// Signer signs /exchange actions. Optional: without it only the /info
	// side and subscriptions are usable.
	Signer ActionSigner

	// AgentAddress is the agent wallet trading on the user's behalf, when a
	// managed agent is used.
	AgentAddress string

	Logger zerolog.Logger
}

// Client talks to Hyperliquid through the HyperETH gateway.
type Client struct {
	params Params
	rest   *rest.Client
	ws     *websocket.Client
	log    zerolog.Logger

	mtx sync.Mutex
	// Metadata cache, populated by Meta; guarded by mtx.
	meta         *Meta
	szDecimals   map[string]int
	assetIndices map[string]int
	agentAddress string
}

// AssetMeta describes one tradable asset from the venue metadata.
type AssetMeta struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage,omitempty"`
}

// Meta is the venue's asset universe.
type Meta struct {
	Universe []AssetMeta `json:"universe"`
}

// AgentWallet is a freshly generated (unmanaged) agent key pair.
type AgentWallet struct {
	Address    string `json:"agent_address"`
	PrivateKey string `json:"agent_private_key"`
}

// New creates a Hyperliquid client. The websocket side connects lazily: call
// Connect before using websocket requests or subscriptions.
func New(params *Params) (*Client, error) {
	p := *params

	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	if p.WSURL == "" {
		p.WSURL = DefaultWSURL
	}

	ws, err := websocket.New(&websocket.Params{
		URL:           p.WSURL,
		Environment:   p.Environment,
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
			BaseURL:     p.BaseURL,
			APIKey:      p.APIKey,
			Environment: p.Environment,
			Logger:      p.Logger,
		}),
		ws:  ws,
		log: p.Logger,

		szDecimals:   make(map[string]int),
		assetIndices: make(map[string]int),
		agentAddress: p.AgentAddress,
	}, nil
}

// WS returns the underlying websocket session, e.g. to register push
// listeners.
func (c *Client) WS() *websocket.Client {
	return c.ws
}

// Connect establishes the websocket session and primes the metadata cache.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.ws.ConnectWait(ctx); err != nil {
		return errors.Trace(err)
	}

	if _, err := c.Meta(ctx); err != nil {
		return errors.Annotatef(err, "fetching venue metadata")
	}

	return nil
}

// Close shuts down the websocket session.
func (c *Client) Close() error {
	return errors.Trace(c.ws.Close())
}

// isMainnet reports whether action signatures should use mainnet domain
// parameters.
func (c *Client) isMainnet() bool {
	return c.params.Environment == "mainnet"
}

// ------------------------------------------------------------------
// /info queries
// ------------------------------------------------------------------

func (c *Client) postInfo(ctx context.Context, payload, out interface{}) error {
	return errors.Trace(c.rest.Post(ctx, "/info", payload, out))
}

// AllMids returns the current mid price for every asset, keyed by asset
// name. Prices are strings, as the venue reports them.
func (c *Client) AllMids(ctx context.Context) (map[string]string, error) {
	var mids map[string]string
	if err := c.postInfo(ctx, map[string]string{"type": "allMids"}, &mids); err != nil {
		return nil, errors.Annotatef(err, "getting mids")
	}

	return mids, nil
}

// MarketPrice returns the current mid price for one asset, or 0 if the venue
// doesn't know it.
func (c *Client) MarketPrice(ctx context.Context, asset string) (float64, error) {
	mids, err := c.AllMids(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}

	mid, ok := mids[asset]
	if !ok {
		return 0, nil
	}

	price, err := strconv.ParseFloat(mid, 64)
	if err != nil {
		return 0, errors.Annotatef(err, "parsing mid %q for %s", mid, asset)
	}

	return price, nil
}

// Meta fetches the venue's asset universe and refreshes the szDecimals and
// asset index caches used for order sizing.
func (c *Client) Meta(ctx context.Context) (*Meta, error) {
	var meta Meta
	if err := c.postInfo(ctx, map[string]string{"type": "meta"}, &meta); err != nil {
		return nil, errors.Annotatef(err, "getting meta")
	}

	c.mtx.Lock()
	c.meta = &meta
	for i, asset := range meta.Universe {
		c.szDecimals[asset.Name] = asset.SzDecimals
		c.assetIndices[asset.Name] = i
	}
	c.mtx.Unlock()

	return &meta, nil
}

// L2Book returns the level-2 order book for a coin.
func (c *Client) L2Book(ctx context.Context, coin string) (json.RawMessage, error) {
	var book json.RawMessage
	err := c.postInfo(ctx, map[string]string{"type": "l2Book", "coin": coin}, &book)
	return book, errors.Annotatef(err, "getting l2 book")
}

// CandleSnapshot returns historical candles for a coin. Timestamps are in
// milliseconds.
func (c *Client) CandleSnapshot(ctx context.Context, coin, interval string, startTime, endTime int64) (json.RawMessage, error) {
	var candles json.RawMessage
	err := c.postInfo(ctx, map[string]interface{}{
		"type": "candleSnapshot",
		"req": map[string]interface{}{
			"coin":      coin,
			"interval":  interval,
			"startTime": startTime,
			"endTime":   endTime,
		},
	}, &candles)
	return candles, errors.Annotatef(err, "getting candle snapshot")
}

// OpenOrders returns the user's open orders.
func (c *Client) OpenOrders(ctx context.Context, user string) (json.RawMessage, error) {
	var orders json.RawMessage
	err := c.postInfo(ctx, map[string]string{"type": "openOrders", "user": user}, &orders)
	return orders, errors.Annotatef(err, "getting open orders")
}

// UserFills returns the user's recent fills.
func (c *Client) UserFills(ctx context.Context, user string) (json.RawMessage, error) {
	var fills json.RawMessage
	err := c.postInfo(ctx, map[string]string{"type": "userFills", "user": user}, &fills)
	return fills, errors.Annotatef(err, "getting user fills")
}

// UserFunding returns the user's funding payments since startTime; endTime
// of 0 means now.
func (c *Client) UserFunding(ctx context.Context, user string, startTime, endTime int64) (json.RawMessage, error) {
	req := map[string]interface{}{
		"type":      "userFunding",
		"user":      user,
		"startTime": startTime,
	}
	if endTime != 0 {
		req["endTime"] = endTime
	}

	var funding json.RawMessage
	err := c.postInfo(ctx, req, &funding)
	return funding, errors.Annotatef(err, "getting user funding")
}

// UserRateLimit returns the user's venue rate limit state.
func (c *Client) UserRateLimit(ctx context.Context, user string) (json.RawMessage, error) {
	var limits json.RawMessage
	err := c.postInfo(ctx, map[string]string{"type": "userRateLimit", "user": user}, &limits)
	return limits, errors.Annotatef(err, "getting user rate limits")
}

// OrderStatus returns the status of one order by id.
func (c *Client) OrderStatus(ctx context.Context, user string, oid int64) (json.RawMessage, error) {
	var status json.RawMessage
	err := c.postInfo(ctx, map[string]interface{}{
		"type": "orderStatus",
		"user": user,
		"oid":  oid,
	}, &status)
	return status, errors.Annotatef(err, "getting order status")
}

// FundingHistory returns a coin's funding rate history since startTime;
// endTime of 0 means now.
func (c *Client) FundingHistory(ctx context.Context, coin string, startTime, endTime int64) (json.RawMessage, error) {
	req := map[string]interface{}{
		"type":      "fundingHistory",
		"coin":      coin,
		"startTime": startTime,
	}
	if endTime != 0 {
		req["endTime"] = endTime
	}

	var history json.RawMessage
	err := c.postInfo(ctx, req, &history)
	return history, errors.Annotatef(err, "getting funding history")
}

// ------------------------------------------------------------------
// Websocket requests and subscriptions
// ------------------------------------------------------------------

// InfoRequestWS sends an /info request over the websocket session.
func (c *Client) InfoRequestWS(ctx context.Context, payload interface{}) (json.RawMessage, error) {
	res, err := c.ws.Post(ctx, "info", payload)
	return res, errors.Trace(err)
}

// ExchangeRequestWS sends an /exchange request over the websocket session.
func (c *Client) ExchangeRequestWS(ctx context.Context, payload interface{}) (json.RawMessage, error) {
	res, err := c.ws.Post(ctx, "action", payload)
	return res, errors.Trace(err)
}

// Subscribe subscribes to a venue channel, e.g. "allMids", or "trades" with
// {"coin": "SOL"}.
func (c *Client) Subscribe(channel string, params map[string]string) error {
	return errors.Trace(c.ws.Subscribe(channel, params))
}

// Unsubscribe removes a venue channel subscription; params must match the
// original subscription.
func (c *Client) Unsubscribe(channel string, params map[string]string) error {
	return errors.Trace(c.ws.Unsubscribe(channel, params))
}

// ------------------------------------------------------------------
// Managed agent wallets
// ------------------------------------------------------------------

// RegisterAgentWallet registers a new gateway-managed agent wallet for this
// API key.
func (c *Client) RegisterAgentWallet(ctx context.Context, name string) (json.RawMessage, error) {
	var res json.RawMessage
	err := c.rest.Post(ctx, "/agent_wallet/register", map[string]string{"name": name}, &res)
	return res, errors.Annotatef(err, "registering agent wallet")
}

// ListAgentWallets lists the gateway-managed agent wallets for this API key.
func (c *Client) ListAgentWallets(ctx context.Context) (json.RawMessage, error) {
	var res json.RawMessage
	err := c.rest.Get(ctx, "/agent_wallet", nil, &res)
	return res, errors.Annotatef(err, "listing agent wallets")
}

// DeleteAgentWallet removes a managed agent wallet from the gateway. The
// agent stays approved on the venue itself until revoked there.
func (c *Client) DeleteAgentWallet(ctx context.Context, agentAddress string) (json.RawMessage, error) {
	var res json.RawMessage
	err := c.rest.Delete(ctx, "/agent_wallet/"+agentAddress, nil, &res)
	return res, errors.Annotatef(err, "deleting agent wallet")
}

// ------------------------------------------------------------------
// Trading
// ------------------------------------------------------------------

// CreateAgentWallet generates a fresh local agent key pair (not managed by
// the gateway) and makes it the active agent address.
func (c *Client) CreateAgentWallet() (*AgentWallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Annotatef(err, "generating agent key")
	}

	wallet := &AgentWallet{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: "0x" + fmt.Sprintf("%x", crypto.FromECDSA(key)),
	}

	c.SetAgentAddress(wallet.Address)

	return wallet, nil
}

// SetAgentAddress sets the active agent wallet address, typically one of the
// gateway-managed agents.
func (c *Client) SetAgentAddress(agentAddress string) {
	c.mtx.Lock()
	c.agentAddress = agentAddress
	c.mtx.Unlock()
}

// AgentAddress returns the active agent wallet address.
func (c *Client) AgentAddress() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.agentAddress
}

// ApproveAgent approves the active agent wallet for trading, signed by the
// user wallet. Must be called before placing orders with an unmanaged agent.
func (c *Client) ApproveAgent(ctx context.Context, agentName string) error {
	if c.params.Signer == nil {
		return errors.New("signer is required")
	}

	agentAddress := c.AgentAddress()
	if agentAddress == "" {
		return errors.New("agent address is not set")
	}

	if agentName == "" {
		agentName = "HyperETHBot"
	}

	nonce := time.Now().UnixMilli()
	action := map[string]interface{}{
		"type":         "approveAgent",
		"agentAddress": strings.ToLower(agentAddress),
		"agentName":    agentName,
		"nonce":        nonce,
	}

	sig, err := c.params.Signer.SignUserAction(action, c.isMainnet())
	if err != nil {
		return errors.Annotatef(err, "signing approveAgent")
	}

	var res struct {
		Status string `json:"status"`
	}
	if err := c.rest.Post(ctx, "/exchange", &exchangePayload{
		Action:    action,
		Nonce:     nonce,
		Signature: sig,
	}, &res); err != nil {
		return errors.Annotatef(err, "approving agent")
	}

	if res.Status != "ok" {
		return errors.Errorf("agent approval failed: %s", res.Status)
	}

	return nil
}

// OrderParams describes one limit order to place.
type OrderParams struct {
	Asset string
	IsBuy bool

	// Price and Size are the requested values; both are rounded to the
	// venue's tick rules before sending.
	Price float64
	Size  float64

	// UseMarketOffset prices the order off the current mid instead of
	// Price: MarketOffsetPct below the mid for buys, above for sells.
	UseMarketOffset bool
	MarketOffsetPct float64

	ReduceOnly bool

	// Tif defaults to TifGtc.
	Tif string

	// Cloid is an optional client order id; see NewCloid.
	Cloid string
}

// PlaceOrder places a limit order through the REST /exchange endpoint.
func (c *Client) PlaceOrder(ctx context.Context, p *OrderParams) (json.RawMessage, error) {
	payload, err := c.buildOrderPayload(ctx, p)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var res json.RawMessage
	if err := c.rest.Post(ctx, "/exchange", payload, &res); err != nil {
		return nil, errors.Annotatef(err, "placing order")
	}

	return res, nil
}

// PlaceOrderWS places a limit order through the websocket session.
func (c *Client) PlaceOrderWS(ctx context.Context, p *OrderParams) (json.RawMessage, error) {
	payload, err := c.buildOrderPayload(ctx, p)
	if err != nil {
		return nil, errors.Trace(err)
	}

	res, err := c.ExchangeRequestWS(ctx, payload)
	return res, errors.Annotatef(err, "placing order")
}

// CancelOrder cancels an order through the REST /exchange endpoint.
func (c *Client) CancelOrder(ctx context.Context, assetIndex int, orderID int64) (json.RawMessage, error) {
	payload, err := c.buildCancelPayload(assetIndex, orderID)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var res json.RawMessage
	if err := c.rest.Post(ctx, "/exchange", payload, &res); err != nil {
		return nil, errors.Annotatef(err, "cancelling order")
	}

	return res, nil
}

// CancelOrderWS cancels an order through the websocket session.
func (c *Client) CancelOrderWS(ctx context.Context, assetIndex int, orderID int64) (json.RawMessage, error) {
	payload, err := c.buildCancelPayload(assetIndex, orderID)
	if err != nil {
		return nil, errors.Trace(err)
	}

	res, err := c.ExchangeRequestWS(ctx, payload)
	return res, errors.Annotatef(err, "cancelling order")
}

func (c *Client) buildOrderPayload(ctx context.Context, p *OrderParams) (*exchangePayload, error) {
	if c.params.Signer == nil {
		return nil, errors.New("signer is required")
	}

	assetIndex, szDecimals, err := c.assetInfo(p.Asset)
	if err != nil {
		return nil, errors.Trace(err)
	}

	price := p.Price
	if p.UseMarketOffset {
		mid, err := c.MarketPrice(ctx, p.Asset)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if mid <= 0 {
			return nil, errors.Errorf("no market price for %s", p.Asset)
		}

		offset := p.MarketOffsetPct
		if offset == 0 {
			offset = 0.10
		}

		if p.IsBuy {
			price = mid * (1 - offset)
		} else {
			price = mid * (1 + offset)
		}
	}

	finalPrice, finalSize := finalizeOrder(p.Asset, szDecimals, price, p.Size)

	wire, err := NewOrderWire(assetIndex, p.IsBuy, finalPrice, finalSize, p.ReduceOnly, p.Tif, p.Cloid)
	if err != nil {
		return nil, errors.Trace(err)
	}

	nonce := time.Now().UnixMilli()
	action := NewOrderAction([]OrderWire{*wire})

	sig, err := c.params.Signer.SignL1Action(action, nonce, c.isMainnet())
	if err != nil {
		return nil, errors.Annotatef(err, "signing order")
	}

	c.log.Debug().
		Str("asset", p.Asset).
		Str("price", wire.Price).
		Str("size", wire.Size).
		Bool("buy", p.IsBuy).
		Msg("built order")

	return &exchangePayload{
		Action:    action,
		Nonce:     nonce,
		Signature: sig,
	}, nil
}

func (c *Client) buildCancelPayload(assetIndex int, orderID int64) (*exchangePayload, error) {
	if c.params.Signer == nil {
		return nil, errors.New("signer is required")
	}

	nonce := time.Now().UnixMilli()
	action := NewCancelAction(assetIndex, orderID)

	sig, err := c.params.Signer.SignL1Action(action, nonce, c.isMainnet())
	if err != nil {
		return nil, errors.Annotatef(err, "signing cancel")
	}

	return &exchangePayload{
		Action:    action,
		Nonce:     nonce,
		Signature: sig,
	}, nil
}

// assetInfo returns the cached index and szDecimals for an asset; the index
// requires metadata, so Meta (or Connect) must have run.
func (c *Client) assetInfo(asset string) (assetIndex, szDecimals int, err error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	index, ok := c.assetIndices[asset]
	if !ok {
		return 0, 0, errors.Errorf("unknown asset %q (metadata not fetched?)", asset)
	}

	decimals, ok := c.szDecimals[asset]
	if !ok {
		decimals = defaultSzDecimals
	}

	return index, decimals, nil
}

// RoundSizeForAsset rounds a size using the asset's cached szDecimals.
func (c *Client) RoundSizeForAsset(size float64, asset string) float64 {
	return RoundSize(size, c.szDecimalsFor(asset))
}

// RoundPriceForAsset rounds a perp price using the asset's cached
// szDecimals.
func (c *Client) RoundPriceForAsset(price float64, asset string) float64 {
	return RoundPrice(price, c.szDecimalsFor(asset), false)
}

func (c *Client) szDecimalsFor(asset string) int {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if d, ok := c.szDecimals[asset]; ok {
		return d
	}
	return defaultSzDecimals
}

// finalizeOrder applies tick rounding, the minimum notional bump, and the
// venue's per-asset size floors.
func finalizeOrder(asset string, szDecimals int, price, size float64) (finalPrice, finalSize float64) {
	finalPrice = RoundPrice(price, szDecimals, false)
	finalSize = RoundSize(size, szDecimals)

	if finalPrice*finalSize < minNotional {
		finalSize = RoundSize(bumpNotional/finalPrice, szDecimals)
	}

	switch asset {
	case "ETH":
		if finalSize < 0.01 {
			finalSize = 0.01
		}
	case "DOGE":
		finalSize = math.Round(finalSize)
		if finalSize < 1 {
			finalSize = 1
		}
	}

	return finalPrice, finalSize
}
