package hypereth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known hardhat development key #0.
const (
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func newTestClient(t *testing.T, restURL string) *Client {
	c, err := New(&Params{
		BaseURL:    restURL,
		WSURL:      "ws://127.0.0.1:1/ws",
		PrivateKey: testPrivateKey,
		APIKey:     "gateway-key",
	})
	require.NoError(t, err)
	return c
}

// recoverSigner recovers the address behind a personal-sign signature.
func recoverSigner(t *testing.T, message, signature string) string {
	sig, err := hexutil.Decode(signature)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	sig[64] -= 27

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	require.NoError(t, err)

	return crypto.PubkeyToAddress(*pub).Hex()
}

func TestRegisterAPIKey(t *testing.T) {
	type registerBody struct {
		Signature string `json:"signature"`
		Nonce     int64  `json:"nonce"`
	}

	var got registerBody

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/api_key/register", r.URL.Path)
		assert.Equal(t, "testnet", r.URL.Query().Get("env"))
		assert.Equal(t, "gateway-key", r.Header.Get("x-api-key"))

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Write([]byte(`{"success":true,"message":"registered","api_key":"he_live_abc123"}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)

	res, err := c.RegisterAPIKey(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "registered", res.Message)
	require.NotNil(t, res.APIKey)
	assert.Equal(t, "he_live_abc123", res.APIKey.Key)
	assert.True(t, res.APIKey.IsActive)

	// The signature must recover to the wallet address over the exact
	// registration message.
	require.NotZero(t, got.Nonce)
	message := fmt.Sprintf("HyperETH: API Key Registration\nNonce: %d", got.Nonce)
	assert.Equal(t, testAddress, recoverSigner(t, message, got.Signature))
}

func TestListAPIKeys(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/api_key/list", r.URL.Path)

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["signature"])
		assert.NotZero(t, body["nonce"])

		w.Write([]byte(`{
			"success": true,
			"api_keys": [
				{"api_key":"he_live_one","created_at":"2026-08-20T10:00:00Z","last_used":"2026-08-24T15:30:00Z","is_active":true},
				{"api_key":"he_live_two","created_at":"not a timestamp","is_active":false}
			]
		}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)

	res, err := c.ListAPIKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, res.APIKeys, 2)

	first := res.APIKeys[0]
	assert.Equal(t, "he_live_one", first.Key)
	assert.True(t, first.IsActive)
	assert.Equal(t, time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), first.CreatedAt.UTC())
	assert.Equal(t, time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC), first.LastUsed.UTC())

	// Malformed timestamps degrade to the zero value instead of failing.
	second := res.APIKeys[1]
	assert.Equal(t, "he_live_two", second.Key)
	assert.False(t, second.IsActive)
	assert.True(t, second.CreatedAt.IsZero())
}

func TestDeleteAPIKey(t *testing.T) {
	var got map[string]interface{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/v1/api_key", r.URL.Path)

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Write([]byte(`{"success":true,"message":"deleted"}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)

	res, err := c.DeleteAPIKey(context.Background(), "he_live_doomed")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "deleted", res.Message)

	require.NotNil(t, got)
	assert.Equal(t, "he_live_doomed", got["api_key_to_delete"])
	assert.NotEmpty(t, got["signature"])

	// The deletion message embeds the key being deleted.
	nonce := int64(got["nonce"].(float64))
	message := fmt.Sprintf("HyperETH: Delete API Key: he_live_doomed\nNonce: %d", nonce)
	assert.Equal(t, testAddress, recoverSigner(t, message, got["signature"].(string)))
}

func TestAPIKeyOpsRequireWallet(t *testing.T) {
	c, err := New(&Params{
		BaseURL: "http://127.0.0.1:1",
		WSURL:   "ws://127.0.0.1:1/ws",
	})
	require.NoError(t, err)

	_, err = c.WalletAddress()
	assert.Error(t, err)

	_, err = c.RegisterAPIKey(context.Background())
	assert.Error(t, err)

	_, err = c.ListAPIKeys(context.Background())
	assert.Error(t, err)

	_, err = c.DeleteAPIKey(context.Background(), "he_live_abc")
	assert.Error(t, err)

	// Empty key is rejected before any request.
	cWallet := newTestClient(t, "http://127.0.0.1:1")
	_, err = cWallet.DeleteAPIKey(context.Background(), "")
	assert.Error(t, err)
}

func TestWalletAddress(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")

	addr, err := c.WalletAddress()
	require.NoError(t, err)
	assert.Equal(t, testAddress, addr)
}

func TestSubmitTradeIntent(t *testing.T) {
	var got map[string]interface{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/trade/intent", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)

	res, err := c.SubmitTradeIntent(context.Background(), &HyperliquidIntent{
		Action:      map[string]interface{}{"type": "order"},
		AgentWallet: "0x0000000000000000000000000000000000000002",
		Nonce:       1234,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(res))

	require.NotNil(t, got)
	assert.Equal(t, "0x0000000000000000000000000000000000000002", got["hl_agent_wallet"])
	assert.EqualValues(t, 1234, got["nonce"])
	assert.Equal(t, map[string]interface{}{"type": "order"}, got["hl_action"])
}

func TestDeriveWSURL(t *testing.T) {
	testCases := []struct {
		wsURL string
		path  string
		want  string
	}{
		{"wss://api.hypereth.io/ws", "/v1/hl/ws", "wss://api.hypereth.io/v1/hl/ws"},
		{"ws://localhost:8080/ws", "/v1/aster/perp/ws", "ws://localhost:8080/v1/aster/perp/ws"},
		{"wss://api.hypereth.io/v1/hl/ws", "/v1/hl/ws", "wss://api.hypereth.io/v1/hl/ws"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, deriveWSURL(tc.wsURL, tc.path), "deriveWSURL(%q, %q)", tc.wsURL, tc.path)
	}
}

func TestBuilderFeeInfo(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")

	info := c.BuilderFeeInfo()
	assert.Equal(t, "0x43539fA237e2F20Dbdb9A783bd8d8B5E99cEa4c9", info.Builder)
	assert.Equal(t, 25, info.Fee)
}
