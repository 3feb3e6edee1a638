package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound(t *testing.T) {
	testCases := []struct {
		name string
		data string

		wantKind         inboundKind
		wantChannel      string
		wantRequestID    int64
		wantResponseType string
		wantMethod       string
		wantPayload      string
		wantErr          bool
	}{
		{
			name: "reply",
			data: `{"channel":"post","data":{"id":7,"response":{"type":"info","payload":{"mids":{"BTC":"50000"}}}}}`,

			wantKind:         inboundReply,
			wantChannel:      "post",
			wantRequestID:    7,
			wantResponseType: "info",
			wantPayload:      `{"mids":{"BTC":"50000"}}`,
		},
		{
			name: "error reply",
			data: `{"channel":"post","data":{"id":3,"response":{"type":"error","payload":"Insufficient margin"}}}`,

			wantKind:         inboundReply,
			wantChannel:      "post",
			wantRequestID:    3,
			wantResponseType: "error",
			wantPayload:      `"Insufficient margin"`,
		},
		{
			name: "push",
			data: `{"channel":"trades","data":{"coin":"SOL","px":"95.5"}}`,

			wantKind:    inboundPush,
			wantChannel: "trades",
			wantPayload: `{"coin":"SOL","px":"95.5"}`,
		},
		{
			name: "subscription ack",
			data: `{"channel":"subscriptionResponse","data":{"method":"subscribe","subscription":{"type":"trades","coin":"SOL"}}}`,

			wantKind:    inboundSubsAck,
			wantChannel: "trades",
			wantMethod:  "subscribe",
		},
		{
			name: "object without channel",
			data: `{"ping":1}`,

			wantKind: inboundUnrecognized,
		},
		{
			name: "channel without data",
			data: `{"channel":"trades"}`,

			wantKind:    inboundUnrecognized,
			wantChannel: "trades",
		},
		{
			name:    "not json",
			data:    `hello there`,
			wantErr: true,
		},
		{
			name:    "truncated json",
			data:    `{"channel":"post","data":{`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			env, err := parseInbound([]byte(tc.data))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tc.wantKind, env.kind)
			assert.Equal(t, tc.wantChannel, env.channel)
			assert.Equal(t, tc.wantRequestID, env.requestID)
			assert.Equal(t, tc.wantResponseType, env.responseType)
			assert.Equal(t, tc.wantMethod, env.method)

			if tc.wantPayload != "" {
				assert.JSONEq(t, tc.wantPayload, string(env.payload))
			}
		})
	}
}

func TestSubscriptionKey(t *testing.T) {
	// Params in a different insertion order produce the same key.
	a := Subscription{Channel: "candle", Params: map[string]string{"coin": "BTC", "interval": "1m"}}
	b := Subscription{Channel: "candle", Params: map[string]string{"interval": "1m", "coin": "BTC"}}
	assert.Equal(t, a.key(), b.key())

	// Different params, different keys.
	c := Subscription{Channel: "candle", Params: map[string]string{"coin": "ETH", "interval": "1m"}}
	assert.NotEqual(t, a.key(), c.key())

	// Same channel with and without params are different subscriptions.
	d := Subscription{Channel: "candle"}
	assert.NotEqual(t, a.key(), d.key())
	assert.Equal(t, "candle", d.key())
}

func TestNewSubscriptionMessage(t *testing.T) {
	msg := newSubscriptionMessage("subscribe", Subscription{
		Channel: "trades",
		Params:  map[string]string{"coin": "SOL"},
	})

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	assert.JSONEq(t, `{"method":"subscribe","subscription":{"type":"trades","coin":"SOL"}}`, string(data))
}

func TestErrorPayloadMessage(t *testing.T) {
	assert.Equal(t, "Insufficient margin", errorPayloadMessage(json.RawMessage(`"Insufficient margin"`)))

	// Non-string payloads come back raw, so the caller still sees something.
	assert.Equal(t, `{"code":42}`, errorPayloadMessage(json.RawMessage(`{"code":42}`)))
}
