package hyperliquid

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

// RSVSignature is an Ethereum signature in the split form the venue's
// /exchange endpoint expects.
type RSVSignature struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// ActionSigner produces the signatures required by the venue's /exchange
// endpoint. L1 actions (orders, cancels) are signed by the agent wallet;
// user-signed actions (approveAgent, approveBuilderFee) by the user wallet.
// The msgpack/EIP-712 hashing scheme is venue-specific, so implementations
// typically wrap the venue's own signing library.
type ActionSigner interface {
	// Address returns the signing wallet address.
	Address() string

	// SignL1Action signs an order or cancel action with the given nonce.
	SignL1Action(action interface{}, nonce int64, isMainnet bool) (*RSVSignature, error)

	// SignUserAction signs a user-signed action such as approveAgent.
	SignUserAction(action map[string]interface{}, isMainnet bool) (*RSVSignature, error)
}

// TIF values accepted in limit order types.
const (
	TifGtc = "Gtc"
	TifIoc = "Ioc"
	TifAlo = "Alo"
)

// LimitOrderType is the limit variant of an order type.
type LimitOrderType struct {
	Tif string `json:"tif"`
}

// OrderType selects the order kind; only one field is set.
type OrderType struct {
	Limit *LimitOrderType `json:"limit,omitempty"`
}

// OrderWire is a single order in the venue's compact wire form.
type OrderWire struct {
	Asset      int       `json:"a"`
	IsBuy      bool      `json:"b"`
	Price      string    `json:"p"`
	Size       string    `json:"s"`
	ReduceOnly bool      `json:"r"`
	Type       OrderType `json:"t"`
	Cloid      string    `json:"c,omitempty"`
}

// OrderAction is the /exchange action placing one or more orders.
type OrderAction struct {
	Type     string      `json:"type"`
	Orders   []OrderWire `json:"orders"`
	Grouping string      `json:"grouping"`
}

// NewOrderAction wraps order wires into an order action with the default
// "na" grouping.
func NewOrderAction(orders []OrderWire) *OrderAction {
	return &OrderAction{
		Type:     "order",
		Orders:   orders,
		Grouping: "na",
	}
}

// CancelWire identifies one order to cancel.
type CancelWire struct {
	Asset   int   `json:"a"`
	OrderID int64 `json:"o"`
}

// CancelAction is the /exchange action cancelling one or more orders.
type CancelAction struct {
	Type    string       `json:"type"`
	Cancels []CancelWire `json:"cancels"`
}

// NewCancelAction builds a cancel action for a single order.
func NewCancelAction(assetIndex int, orderID int64) *CancelAction {
	return &CancelAction{
		Type:    "cancel",
		Cancels: []CancelWire{{Asset: assetIndex, OrderID: orderID}},
	}
}

// exchangePayload is the body posted to /exchange (or sent as an "action"
// request over the websocket session).
type exchangePayload struct {
	Action       interface{}   `json:"action"`
	Nonce        int64         `json:"nonce"`
	Signature    *RSVSignature `json:"signature"`
	VaultAddress *string       `json:"vaultAddress"`
	ExpiresAfter *int64        `json:"expiresAfter"`
}

// FloatToWire renders a float the way the venue expects: fixed 8 decimal
// places with trailing zeros stripped. Values which can't be represented
// exactly in 8 decimals are rejected rather than silently rounded.
func FloatToWire(x float64) (string, error) {
	s := strconv.FormatFloat(x, 'f', 8, 64)

	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", errors.Annotatef(err, "formatting %v", x)
	}
	if math.Abs(parsed-x) >= 1e-12 {
		return "", errors.Errorf("value %v loses precision on the wire", x)
	}

	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "-0" {
		s = "0"
	}

	return s, nil
}

// NewCloid returns a fresh client order id: 16 random bytes, 0x-hex encoded.
func NewCloid() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}

// NewOrderWire builds an order wire for a limit order, converting price and
// size to the wire float format.
func NewOrderWire(assetIndex int, isBuy bool, price, size float64, reduceOnly bool, tif, cloid string) (*OrderWire, error) {
	p, err := FloatToWire(price)
	if err != nil {
		return nil, errors.Annotatef(err, "price")
	}

	s, err := FloatToWire(size)
	if err != nil {
		return nil, errors.Annotatef(err, "size")
	}

	if tif == "" {
		tif = TifGtc
	}

	return &OrderWire{
		Asset:      assetIndex,
		IsBuy:      isBuy,
		Price:      p,
		Size:       s,
		ReduceOnly: reduceOnly,
		Type:       OrderType{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}
