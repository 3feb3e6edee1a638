package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/hypereth-io/hypereth-sdk-go/client/websocket/internal"
	"github.com/hypereth-io/hypereth-sdk-go/common"
)

const (
	// DefaultRequestTimeout limits how long Post waits for a correlated
	// reply unless overridden in Params.
	DefaultRequestTimeout = 10 * time.Second

	// pushQueueSize bounds the handoff queue between the receive loop and
	// push listeners. When listeners can't keep up, frames are dropped (and
	// counted) rather than stalling the receive loop.
	pushQueueSize = 256
)

// The following errors are returned from Client.
var (
	// ErrNotConnected means the connection is not established when the
	// client tried to e.g. send a message, or close the connection.
	ErrNotConnected = errors.New("not connected")

	// ErrConnLoopActive means the client tried to connect when the client is
	// already connecting.
	ErrConnLoopActive = errors.New("connection loop is already active")

	// ErrConnClosed means the connection was closed while one or more
	// correlated requests were still awaiting their reply. Every pending
	// waiter receives it; none is left hanging.
	ErrConnClosed = errors.New("connection closed")
)

// RequestTimeoutError is returned from Post when no reply arrived within the
// request timeout. The pending entry is removed before returning, so a very
// late reply for the same id is dropped harmlessly.
type RequestTimeoutError struct {
	RequestID int64
	Timeout   time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %d timed out after %s", e.RequestID, e.Timeout)
}

// ConnState represents the gateway session state.
type ConnState int

// The following constants represent every possible ConnState.
const (
	// ConnStateDisconnected means we're disconnected and not trying to
	// connect.
	ConnStateDisconnected ConnState = iota

	// ConnStateWaitBeforeReconnect means a connection attempt failed (or an
	// established connection dropped) and we're waiting for a timeout before
	// connecting again. Only reachable with ReconnectOpts.Reconnect set.
	ConnStateWaitBeforeReconnect

	// ConnStateConnecting means the websocket dial is in progress.
	ConnStateConnecting

	// ConnStateConnected means the session is ready: Post and Subscribe are
	// usable.
	ConnStateConnected

	// ConnStateAny can be used with OnStateChange() and OnStateChangeOpt()
	// in order to listen for all states.
	ConnStateAny = -1
)

// ConnStateNames contains human-readable names for connection states.
var ConnStateNames = map[ConnState]string{
	ConnStateDisconnected:        "disconnected",
	ConnStateWaitBeforeReconnect: "wait-before-reconnect",
	ConnStateConnecting:          "connecting",
	ConnStateConnected:           "connected",
}

// ReconnectOpts are settings used to reconnect after being disconnected. By
// default reconnection is off: the session stays disconnected and the caller
// decides whether to call Connect again. With Reconnect set, the client will
// redial with linear backoff, and on every re-established connection it
// replays all tracked subscriptions. Pending requests never survive a
// disconnect: they are failed with ErrConnClosed at the moment the
// connection drops.
type ReconnectOpts struct {
	Reconnect bool

	// Reconnection backoff: if true, then the reconnection time will be
	// initially ReconnectTimeout, then will grow by 500ms on each
	// unsuccessful connection attempt; but it won't be longer than
	// MaxReconnectTimeout.
	Backoff bool

	// Initial reconnection timeout: defaults to 0 seconds. If backoff=false,
	// a minimum reconnectTimeout of 1 second will be used.
	ReconnectTimeout time.Duration

	// Max reconnect timeout. If zero, then 30 seconds will be used.
	MaxReconnectTimeout time.Duration
}

// Params contains options for opening a gateway session.
type Params struct {
	// URL is the gateway websocket endpoint.
	URL string

	// Environment is appended to the URL as an env query parameter when
	// non-empty (the AsterDex endpoints don't take one, so leave it empty
	// there).
	Environment string

	// APIKey, when non-empty, is sent as the x-api-key header on the dial
	// request.
	APIKey string

	ReconnectOpts *ReconnectOpts

	// RequestTimeout overrides DefaultRequestTimeout for Post calls.
	RequestTimeout time.Duration

	// Clock is used for request timeouts; nil means the system clock.
	Clock clock.Clock

	// Logger receives receive-loop diagnostics (malformed frames, unmatched
	// reply ids, dropped pushes). The zero value is disabled.
	Logger zerolog.Logger
}

// StateCallback is the signature of a state listener. Cause is the error
// which caused the transition; it's only relevant for ConnStateDisconnected
// and ConnStateWaitBeforeReconnect, for other states it's always nil.
type StateCallback func(prevState, curState ConnState, cause error)

// StateListenerOpt contains options for OnStateChangeOpt.
type StateListenerOpt struct {
	// If OneOff is true, the listener will only be called once; otherwise
	// it'll be called every time the requested state becomes active.
	OneOff bool

	// If CallImmediately is true, and the state being subscribed to is
	// active at the moment, the callback will be called immediately (with
	// the "old" state being equal to the new one).
	CallImmediately bool
}

// PushFrame is a single message from a subscription data channel.
type PushFrame struct {
	Channel string
	Data    json.RawMessage
}

// PushCB defines a callback function for OnPush. Listeners are invoked from
// a single dispatch goroutine and shouldn't block: the handoff queue is
// bounded, and frames arriving while it's full are dropped.
type PushCB func(frame PushFrame)

// SubsAckCB defines a callback function for OnSubscriptionAck. Acks are
// observational: a subscribe call never waits for one.
type SubsAckCB func(method, channel string)

// OnErrorCB is the signature of an error listener. If the error is causing a
// disconnection, disconnecting is set to true; in that case the error
// listeners are called before the state listeners.
type OnErrorCB func(err error, disconnecting bool)

type stateListener struct {
	state ConnState
	cb    StateCallback
	opt   StateListenerOpt
}

// postResult is what resolves a pending request: exactly one of payload or
// err is meaningful.
type postResult struct {
	responseType string
	payload      json.RawMessage
	err          error
}

// dispatchEvent carries one callback invocation request to the dispatch
// goroutine, so that all listener callbacks run on a single goroutine and
// never on the receive loop.
type dispatchEvent struct {
	push *PushFrame

	ack *struct{ method, channel string }

	stateChange *struct {
		listeners       []stateListener
		oldState, state ConnState
		cause           error
	}

	err *struct {
		listeners     []OnErrorCB
		err           error
		disconnecting bool
	}
}

// Client is a session over one duplex gateway connection. It multiplexes
// correlated request/reply calls (Post) and fire-and-forget subscription
// feeds (Subscribe/Unsubscribe, OnPush) over the same socket; arbitrarily
// many goroutines may have Posts in flight concurrently, each resolved
// independently and exactly once.
type Client struct {
	params    Params
	transport *internal.TransportConn
	clock     clock.Clock
	log       zerolog.Logger

	events chan dispatchEvent

	mtx sync.Mutex
	// Fields below are guarded by mtx.
	state          ConnState
	nextID         int64
	pending        map[int64]chan postResult
	subs           map[string]Subscription
	stateListeners map[ConnState][]stateListener
	pushListeners  []PushCB
	ackListeners   []SubsAckCB
	errListeners   []OnErrorCB
}

// New creates a new gateway session with the given params. The session
// starts listening for registrations immediately, but the connection is only
// opened by an explicit Connect call.
func New(params *Params) (*Client, error) {
	p := *params

	if p.URL == "" {
		return nil, errors.New("URL is required")
	}
	if p.Environment != "" {
		sep := "?"
		if strings.Contains(p.URL, "?") {
			sep = "&"
		}
		p.URL = p.URL + sep + "env=" + url.QueryEscape(p.Environment)
	}
	if p.ReconnectOpts == nil {
		p.ReconnectOpts = &ReconnectOpts{}
	}
	if p.RequestTimeout == 0 {
		p.RequestTimeout = DefaultRequestTimeout
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}

	var header http.Header
	if p.APIKey != "" {
		header = http.Header{}
		header.Set("x-api-key", p.APIKey)
	}

	transport, err := internal.NewTransportConn(&internal.TransportParams{
		URL:           p.URL,
		RequestHeader: header,

		Reconnect:           p.ReconnectOpts.Reconnect,
		Backoff:             p.ReconnectOpts.Backoff,
		ReconnectTimeout:    p.ReconnectOpts.ReconnectTimeout,
		MaxReconnectTimeout: p.ReconnectOpts.MaxReconnectTimeout,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	c := &Client{
		params:    p,
		transport: transport,
		clock:     p.Clock,
		log:       p.Logger,

		events: make(chan dispatchEvent, 128),

		state:          ConnStateDisconnected,
		pending:        make(map[int64]chan postResult),
		subs:           make(map[string]Subscription),
		stateListeners: make(map[ConnState][]stateListener),
	}

	transport.OnStateChange(func(_ *internal.TransportConn, oldState, state internal.TransportState, cause error) {
		c.handleTransportStateChange(oldState, state, cause)
	})

	transport.OnRead(func(_ *internal.TransportConn, data []byte) {
		c.handleInbound(data)
	})

	go c.dispatchLoop()

	return c, nil
}

// URL returns the url the session connects to, including the environment
// query parameter, if any.
func (c *Client) URL() string {
	return c.params.URL
}

// Connect either starts a connection goroutine (if state is
// ConnStateDisconnected), or makes it connect immediately, ignoring the
// reconnect timeout (if the state is ConnStateWaitBeforeReconnect). For
// other states, this returns ErrConnLoopActive: the session must not be
// double-connected.
//
// Connect doesn't wait for the connection to establish; it returns
// immediately. Use ConnectWait for the blocking flavor.
func (c *Client) Connect() (err error) {
	defer func() {
		if errors.Cause(err) == internal.ErrConnLoopActive {
			err = errors.Trace(ErrConnLoopActive)
		}
	}()

	if err := c.transport.Connect(); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// ConnectWait calls Connect and blocks until the session is established, the
// attempt fails, or ctx is done. With reconnection off (the default), a
// failed dial surfaces as the dial error.
func (c *Client) ConnectWait(ctx context.Context) error {
	res := make(chan error, 2)

	c.OnStateChangeOpt(ConnStateConnected, func(_, _ ConnState, _ error) {
		res <- nil
	}, StateListenerOpt{OneOff: true, CallImmediately: true})

	c.OnStateChangeOpt(ConnStateDisconnected, func(_, _ ConnState, cause error) {
		if cause == nil {
			cause = ErrNotConnected
		}
		res <- errors.Annotatef(cause, "connecting to %s", c.params.URL)
	}, StateListenerOpt{OneOff: true})

	if err := c.Connect(); err != nil {
		return errors.Trace(err)
	}

	select {
	case err := <-res:
		return errors.Trace(err)
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

// Close stops the connection (or reconnection loop, if active), closes the
// websocket connection if one is open, and resolves every still-pending Post
// with ErrConnClosed before returning. It is safe to call when not
// connected.
func (c *Client) Close() error {
	err := c.transport.Close()
	if err != nil && errors.Cause(err) != internal.ErrNotConnected {
		return errors.Trace(err)
	}

	// The transport state change also fails pending requests, but that
	// happens asynchronously; doing it here as well guarantees nobody is
	// left waiting once Close returns. failPending resolves each entry at
	// most once, so the double call is harmless.
	c.failPending(ErrConnClosed)

	return nil
}

// State returns the current session state.
func (c *Client) State() ConnState {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

// Post sends a correlated request envelope and waits for the matching reply.
// A fresh id is assigned from the session's counter; the request is
// registered before transmission, so a reply can never race the
// registration. The wait ends when the reply arrives, when the request
// timeout elapses (RequestTimeoutError), when ctx is done, or when the
// connection closes (ErrConnClosed). If the reply itself is tagged as an
// error, Post returns a *common.APIError carrying the server message.
func (c *Client) Post(ctx context.Context, reqType string, payload interface{}) (json.RawMessage, error) {
	c.mtx.Lock()
	c.nextID++
	id := c.nextID
	resCh := make(chan postResult, 1)
	c.pending[id] = resCh
	c.mtx.Unlock()

	req := &postRequest{
		Method: "post",
		ID:     id,
		Request: requestBody{
			Type:    reqType,
			Payload: payload,
		},
	}

	data, err := json.Marshal(req)
	if err != nil {
		c.removePending(id)
		return nil, errors.Annotatef(err, "marshalling request %d", id)
	}

	if err := c.send(ctx, data); err != nil {
		c.removePending(id)
		return nil, errors.Trace(err)
	}

	c.log.Debug().Int64("id", id).Str("type", reqType).Msg("sent ws request")

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, errors.Trace(res.err)
		}

		if res.responseType == responseTypeError {
			return nil, &common.APIError{Message: errorPayloadMessage(res.payload)}
		}

		return res.payload, nil

	case <-c.clock.After(c.params.RequestTimeout):
		c.removePending(id)
		return nil, &RequestTimeoutError{RequestID: id, Timeout: c.params.RequestTimeout}

	case <-ctx.Done():
		c.removePending(id)
		return nil, errors.Trace(ctx.Err())
	}
}

// Subscribe transmits a subscribe control frame and records the
// subscription. Fire-and-forget: it does not wait for the server's
// acknowledgment frame (see OnSubscriptionAck). Re-subscribing to the same
// (channel, params) identity is idempotent for the registry, though the wire
// message is still sent.
func (c *Client) Subscribe(channel string, params map[string]string) error {
	sub := Subscription{Channel: channel, Params: params}

	if err := c.SendJSON(context.Background(), newSubscriptionMessage("subscribe", sub)); err != nil {
		return errors.Annotatef(err, "subscribe %q", sub.key())
	}

	c.mtx.Lock()
	c.subs[sub.key()] = sub
	c.mtx.Unlock()

	return nil
}

// Unsubscribe transmits an unsubscribe control frame and removes the
// subscription from the registry. Removing an unknown subscription is a
// no-op, not an error.
func (c *Client) Unsubscribe(channel string, params map[string]string) error {
	sub := Subscription{Channel: channel, Params: params}

	if err := c.SendJSON(context.Background(), newSubscriptionMessage("unsubscribe", sub)); err != nil {
		return errors.Annotatef(err, "unsubscribe %q", sub.key())
	}

	c.mtx.Lock()
	delete(c.subs, sub.key())
	c.mtx.Unlock()

	return nil
}

// GetSubscriptions returns a snapshot of the current subscriptions.
func (c *Client) GetSubscriptions() []Subscription {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	subs := make([]Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}

	return subs
}

// SendJSON marshals v and sends it as a single text frame, without any reply
// correlation. It is used for subscription control frames and for venue
// stream protocols (AsterDex) that don't follow the gateway post envelope.
func (c *Client) SendJSON(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Annotatef(err, "marshalling frame")
	}

	return errors.Trace(c.send(ctx, data))
}

// OnPush registers a listener for all subscription data frames. Frames for
// channels nobody listens to are dropped after logging.
func (c *Client) OnPush(cb PushCB) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.pushListeners = append(c.pushListeners, cb)
}

// OnSubscriptionAck registers a listener for subscription acknowledgment
// frames. Purely observational: the gateway doesn't distinguish a rejected
// subscription from an accepted one here.
func (c *Client) OnSubscriptionAck(cb SubsAckCB) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.ackListeners = append(c.ackListeners, cb)
}

// OnError registers a callback which will be called on all connection
// errors. When it's an error about disconnection, the OnError callbacks are
// called before the state listeners.
func (c *Client) OnError(cb OnErrorCB) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.errListeners = append(c.errListeners, cb)
}

// OnStateChange registers a new listener for the given state. All listener
// callbacks (state, push, ack, error) are invoked by the same internal
// goroutine, i.e. they are never called concurrently with each other.
//
// The listeners shouldn't block; a blocked listener will eventually block
// the whole session's callback dispatch (though never the receive loop).
//
// To subscribe to all state changes, use ConnStateAny as a state.
func (c *Client) OnStateChange(state ConnState, cb StateCallback) {
	c.OnStateChangeOpt(state, cb, StateListenerOpt{})
}

// OnStateChangeOpt is like OnStateChange, but also takes additional options;
// see StateListenerOpt for details.
func (c *Client) OnStateChangeOpt(state ConnState, cb StateCallback, opt StateListenerOpt) {
	sl := stateListener{state: state, cb: cb, opt: opt}

	c.mtx.Lock()

	callNow := opt.CallImmediately && (state == c.state || state == ConnStateAny)
	if !opt.OneOff || !callNow {
		c.stateListeners[state] = append(c.stateListeners[state], sl)
	}
	cur := c.state

	c.mtx.Unlock()

	if callNow {
		c.events <- dispatchEvent{stateChange: &struct {
			listeners       []stateListener
			oldState, state ConnState
			cause           error
		}{
			listeners: []stateListener{sl},
			oldState:  cur,
			state:     cur,
		}}
	}
}

// send transmits one text frame, translating transport errors to public
// ones.
func (c *Client) send(ctx context.Context, data []byte) (err error) {
	defer func() {
		if errors.Cause(err) == internal.ErrNotConnected {
			err = errors.Trace(ErrNotConnected)
		}
	}()

	return errors.Trace(c.transport.Send(ctx, data))
}

// removePending drops the pending entry for id, if it's still there. Called
// on the caller's own exit paths (timeout, cancellation, send failure) so a
// very late reply is dropped instead of matching a dead waiter.
func (c *Client) removePending(id int64) {
	c.mtx.Lock()
	delete(c.pending, id)
	c.mtx.Unlock()
}

// failPending resolves every pending request with err and leaves the table
// empty.
func (c *Client) failPending(err error) {
	c.mtx.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan postResult)
	c.mtx.Unlock()

	for id, ch := range pending {
		ch <- postResult{err: err}
		c.log.Debug().Int64("id", id).Msg("failed pending request on connection close")
	}
}

// handleInbound is the dispatch half of the receive loop: it runs on the
// transport's receive goroutine for every frame, so it must never block.
// Malformed payloads are logged and skipped; a single bad frame never
// terminates the loop.
func (c *Client) handleInbound(data []byte) {
	env, err := parseInbound(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed ws frame")
		return
	}

	switch env.kind {
	case inboundReply:
		c.resolvePending(env)

	case inboundPush:
		c.dispatchPush(env)

	case inboundSubsAck:
		c.log.Debug().
			Str("method", env.method).
			Str("channel", env.channel).
			Msg("subscription ack")

		c.mtx.Lock()
		listeners := make([]SubsAckCB, len(c.ackListeners))
		copy(listeners, c.ackListeners)
		c.mtx.Unlock()

		if len(listeners) > 0 {
			c.events <- dispatchEvent{ack: &struct{ method, channel string }{env.method, env.channel}}
		}

	case inboundUnrecognized:
		c.log.Info().RawJSON("frame", env.payload).Msg("unrecognized ws frame")
	}
}

// resolvePending pops the pending entry matching a reply and resolves it.
// The entry is removed under the lock before the result is delivered, which
// is what guarantees at-most-once resolution. Unknown ids (late, duplicate,
// or never ours) are logged and dropped.
func (c *Client) resolvePending(env *inboundEnvelope) {
	c.mtx.Lock()
	resCh, ok := c.pending[env.requestID]
	if ok {
		delete(c.pending, env.requestID)
	}
	c.mtx.Unlock()

	if !ok {
		c.log.Warn().Int64("id", env.requestID).Msg("reply for unknown request id")
		return
	}

	// The channel is buffered, so this never blocks the receive loop.
	resCh <- postResult{
		responseType: env.responseType,
		payload:      env.payload,
	}
}

// dispatchPush hands a data frame to the dispatch goroutine without
// blocking; when the queue is full the frame is dropped and logged.
func (c *Client) dispatchPush(env *inboundEnvelope) {
	frame := PushFrame{Channel: env.channel, Data: env.payload}

	select {
	case c.events <- dispatchEvent{push: &frame}:
	default:
		c.log.Warn().Str("channel", env.channel).Msg("push queue full, dropping frame")
	}
}

func (c *Client) handleTransportStateChange(_, transportState internal.TransportState, cause error) {
	var state ConnState
	switch transportState {
	case internal.TransportStateDisconnected:
		state = ConnStateDisconnected
	case internal.TransportStateWaitBeforeReconnect:
		state = ConnStateWaitBeforeReconnect
	case internal.TransportStateConnecting:
		state = ConnStateConnecting
	case internal.TransportStateConnected:
		state = ConnStateConnected
	default:
		panic(fmt.Sprintf("invalid transport state %v", transportState))
	}

	if state == ConnStateDisconnected || state == ConnStateWaitBeforeReconnect {
		// The connection is gone: every in-flight request is failed right
		// now. Request ids are not valid across connections, so nothing is
		// carried over.
		c.failPending(ErrConnClosed)

		if cause != nil {
			c.scheduleErrCallbacks(cause, true)
		}
	}

	c.mtx.Lock()

	oldState := c.state
	c.state = state

	listeners := append([]stateListener{}, c.stateListeners[state]...)
	listeners = append(listeners, c.stateListeners[ConnStateAny]...)

	c.stateListeners[state] = removeOneOff(c.stateListeners[state])
	c.stateListeners[ConnStateAny] = removeOneOff(c.stateListeners[ConnStateAny])

	subsCount := len(c.subs)

	c.mtx.Unlock()

	if len(listeners) > 0 {
		c.events <- dispatchEvent{stateChange: &struct {
			listeners       []stateListener
			oldState, state ConnState
			cause           error
		}{
			listeners: listeners,
			oldState:  oldState,
			state:     state,
			cause:     cause,
		}}
	}

	// On a re-established connection, replay all tracked subscriptions.
	// This must not run on the transport callback goroutine: sending blocks
	// on the write loop, which may be busy behind the same mutex.
	if state == ConnStateConnected && subsCount > 0 {
		go c.replaySubscriptions()
	}
}

func (c *Client) replaySubscriptions() {
	for _, sub := range c.GetSubscriptions() {
		if err := c.SendJSON(context.Background(), newSubscriptionMessage("subscribe", sub)); err != nil {
			c.log.Warn().Err(err).Str("subscription", sub.key()).Msg("failed to replay subscription")
			continue
		}

		c.log.Debug().Str("subscription", sub.key()).Msg("replayed subscription")
	}
}

func (c *Client) scheduleErrCallbacks(err error, disconnecting bool) {
	c.mtx.Lock()
	listeners := make([]OnErrorCB, len(c.errListeners))
	copy(listeners, c.errListeners)
	c.mtx.Unlock()

	if len(listeners) == 0 {
		return
	}

	c.events <- dispatchEvent{err: &struct {
		listeners     []OnErrorCB
		err           error
		disconnecting bool
	}{listeners, err, disconnecting}}
}

// dispatchLoop delivers all listener callbacks from a single goroutine.
func (c *Client) dispatchLoop() {
	for ev := range c.events {
		switch {
		case ev.push != nil:
			c.mtx.Lock()
			listeners := make([]PushCB, len(c.pushListeners))
			copy(listeners, c.pushListeners)
			c.mtx.Unlock()

			if len(listeners) == 0 {
				c.log.Debug().Str("channel", ev.push.Channel).Msg("push frame with no listener")
				continue
			}

			for _, cb := range listeners {
				cb(*ev.push)
			}

		case ev.ack != nil:
			c.mtx.Lock()
			listeners := make([]SubsAckCB, len(c.ackListeners))
			copy(listeners, c.ackListeners)
			c.mtx.Unlock()

			for _, cb := range listeners {
				cb(ev.ack.method, ev.ack.channel)
			}

		case ev.stateChange != nil:
			for _, sl := range ev.stateChange.listeners {
				sl.cb(ev.stateChange.oldState, ev.stateChange.state, ev.stateChange.cause)
			}

		case ev.err != nil:
			for _, cb := range ev.err.listeners {
				cb(ev.err.err, ev.err.disconnecting)
			}
		}
	}
}

// removeOneOff takes a slice of listeners and returns a new one, with
// one-off listeners removed.
func removeOneOff(listeners []stateListener) []stateListener {
	newListeners := []stateListener{}

	for _, sl := range listeners {
		if !sl.opt.OneOff {
			newListeners = append(newListeners, sl)
		}
	}

	return newListeners
}
