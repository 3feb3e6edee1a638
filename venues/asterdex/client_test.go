package asterdex

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuturesGet(t *testing.T) {
	var gotPath string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "gateway-key", r.Header.Get("x-api-key"))
		w.Write([]byte(`{"symbols":[]}`))
	}))
	defer ts.Close()

	c, err := New(&Params{BaseURL: ts.URL, APIKey: "gateway-key"})
	require.NoError(t, err)

	res, err := c.FuturesGet(context.Background(), "v1/exchangeInfo", nil, false)
	require.NoError(t, err)

	assert.Equal(t, "/fapi/v1/exchangeInfo", gotPath)
	assert.JSONEq(t, `{"symbols":[]}`, string(res))
}

func TestSignedRequest(t *testing.T) {
	const secret = "venue-secret"

	var gotQuery url.Values

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c, err := New(&Params{BaseURL: ts.URL, VenueAPISecret: secret})
	require.NoError(t, err)

	_, err = c.FuturesGet(context.Background(), "v2/account", url.Values{"recvWindow": {"5000"}}, true)
	require.NoError(t, err)
	require.NotNil(t, gotQuery)

	// A millisecond timestamp was added.
	tsMs := gotQuery.Get("timestamp")
	require.NotEmpty(t, tsMs)

	// The signature covers the query string minus the signature itself.
	signature := gotQuery.Get("signature")
	require.NotEmpty(t, signature)

	signedPart := url.Values{
		"recvWindow": {"5000"},
		"timestamp":  {tsMs},
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPart.Encode()))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), signature)
}

func TestSignedRequestRequiresSecret(t *testing.T) {
	c, err := New(&Params{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = c.FuturesGet(context.Background(), "v2/account", nil, true)
	assert.Error(t, err)
}

func TestStreamSubscriptions(t *testing.T) {
	frames := make(chan []byte, 8)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := gorillaws.Upgrader{}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer ws.Close()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	u.Scheme = "ws"

	c, err := New(&Params{
		BaseURL:   "http://127.0.0.1:1",
		PerpWSURL: u.String(),
	})
	require.NoError(t, err)
	defer c.CloseWS()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, c.ConnectPerpWS(ctx))

	require.NoError(t, c.SubscribePerpStreams(ctx, []string{"btcusdt@aggTrade", "btcusdt@depth"}))
	require.NoError(t, c.UnsubscribePerpStreams(ctx, []string{"btcusdt@depth"}))

	var sub, unsub streamRequest

	select {
	case data := <-frames:
		require.NoError(t, json.Unmarshal(data, &sub))
	case <-time.After(1 * time.Second):
		t.Fatal("didn't receive subscribe frame")
	}

	select {
	case data := <-frames:
		require.NoError(t, json.Unmarshal(data, &unsub))
	case <-time.After(1 * time.Second):
		t.Fatal("didn't receive unsubscribe frame")
	}

	assert.Equal(t, "SUBSCRIBE", sub.Method)
	assert.Equal(t, []string{"btcusdt@aggTrade", "btcusdt@depth"}, sub.Params)

	assert.Equal(t, "UNSUBSCRIBE", unsub.Method)
	assert.Equal(t, []string{"btcusdt@depth"}, unsub.Params)

	// Frame ids increment.
	assert.Equal(t, sub.ID+1, unsub.ID)
}
