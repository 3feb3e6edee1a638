/*
Package websocket manages a duplex session with the HyperETH gateway.

A single websocket connection carries two kinds of traffic at once:
correlated request/reply exchanges (Post), and subscription streams
(Subscribe, OnPush). The session keeps them apart with per-request ids on the
"post" channel, so any number of goroutines can have requests in flight
concurrently over the same socket.

Basic usage:

	c, err := websocket.New(&websocket.Params{
		URL:         "wss://api.hypereth.io/ws",
		Environment: "testnet",
		APIKey:      "my-api-key",
	})
	if err != nil {
		log.Fatal(err)
	}

	c.OnPush(func(frame websocket.PushFrame) {
		// Handle subscription data
	})

	if err := c.ConnectWait(ctx); err != nil {
		log.Fatal(err)
	}

	res, err := c.Post(ctx, "info", map[string]string{"type": "allMids"})

Every Post resolves exactly once: with the reply payload, with a
*common.APIError if the gateway answered with an error reply, with a
*RequestTimeoutError if nothing came back in time, or with ErrConnClosed if
the connection dropped while the request was pending.

Subscriptions are fire-and-forget: Subscribe sends the control frame and
records the subscription, without waiting for the gateway's acknowledgment.
With ReconnectOpts.Reconnect set, recorded subscriptions are replayed on
every re-established connection; pending requests are not, they fail the
moment the connection drops.

All methods can be called concurrently from any number of goroutines. All
callbacks and listeners are called by the same internal goroutine, unique to
each session; that is, they are never called concurrently with each other.
*/
package websocket
