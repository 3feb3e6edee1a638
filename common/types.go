// Package common contains types shared between the HyperETH transports and
// venue facades.
package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExchangeID identifies a venue reachable through the HyperETH gateway.
type ExchangeID string

const (
	ExchangeHyperliquid ExchangeID = "hyperliquid"
	ExchangeAsterDex    ExchangeID = "asterdex"
)

// APIError is returned when the gateway (or a venue behind it) answered, but
// signaled a failure: either an HTTP-level error on the REST transport, or an
// application-level error reply on the websocket session. StatusCode is zero
// for websocket-originated errors.
type APIError struct {
	Message    string
	StatusCode int
	Response   json.RawMessage
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api error (HTTP %d): %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("api error: %s", e.Message)
}

// APIKey is a single key registered with the gateway for the wallet.
type APIKey struct {
	Key       string
	CreatedAt time.Time
	LastUsed  time.Time
	IsActive  bool
}

// APIKeyResponse is the outcome of an API key management operation.
type APIKeyResponse struct {
	Success bool
	Message string

	// APIKey is set by register; APIKeys is set by list.
	APIKey  *APIKey
	APIKeys []APIKey
}
