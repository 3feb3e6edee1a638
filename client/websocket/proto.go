package websocket

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/juju/errors"
)

// Channel names with a fixed meaning on the gateway. Everything else is a
// subscription data channel.
const (
	channelPost    = "post"
	channelSubsAck = "subscriptionResponse"
)

// postRequest is the outbound envelope for a correlated request. The id is
// assigned by the session right before sending.
type postRequest struct {
	Method  string      `json:"method"`
	ID      int64       `json:"id"`
	Request requestBody `json:"request"`
}

type requestBody struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// subscriptionMessage is the outbound envelope for subscribe/unsubscribe
// control frames. The filter params are flattened into the subscription
// object next to its type, e.g.:
//
//	{"method":"subscribe","subscription":{"type":"trades","coin":"SOL"}}
type subscriptionMessage struct {
	Method       string                 `json:"method"`
	Subscription map[string]interface{} `json:"subscription"`
}

func newSubscriptionMessage(method string, sub Subscription) *subscriptionMessage {
	body := make(map[string]interface{}, len(sub.Params)+1)
	body["type"] = sub.Channel
	for k, v := range sub.Params {
		body[k] = v
	}

	return &subscriptionMessage{
		Method:       method,
		Subscription: body,
	}
}

// inboundKind discriminates every frame the receive loop can observe. A frame
// is parsed exactly once at the boundary and dispatched on this tag.
type inboundKind int

const (
	inboundReply inboundKind = iota
	inboundPush
	inboundSubsAck
	inboundUnrecognized
)

// inboundEnvelope is the parsed form of a received frame. Which fields are
// set depends on kind:
//
//   - inboundReply: requestID, responseType, payload (the inner response
//     payload, not the whole data object)
//   - inboundPush: channel, payload (the data object)
//   - inboundSubsAck: method, channel (the acked subscription type), payload
//   - inboundUnrecognized: channel (possibly empty), payload (raw frame)
type inboundEnvelope struct {
	kind         inboundKind
	channel      string
	requestID    int64
	responseType string
	method       string
	payload      json.RawMessage
}

// replyEnvelope mirrors the gateway reply frame:
//
//	{"channel":"post","data":{"id":7,"response":{"type":"info","payload":{...}}}}
type replyEnvelope struct {
	Data struct {
		ID       int64 `json:"id"`
		Response struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		} `json:"response"`
	} `json:"data"`
}

type subsAckEnvelope struct {
	Data struct {
		Method       string `json:"method"`
		Subscription struct {
			Type string `json:"type"`
		} `json:"subscription"`
	} `json:"data"`
}

// parseInbound classifies a raw frame into an inboundEnvelope. The channel
// discriminator is peeked with jsonparser before committing to a full decode
// of the matching shape. A frame which is not a JSON object at all yields an
// error; a JSON object of unexpected shape is still delivered, as
// inboundUnrecognized, so the session can log it without dropping data on the
// floor silently.
func parseInbound(data []byte) (*inboundEnvelope, error) {
	channel, err := jsonparser.GetString(data, "channel")
	if err != nil {
		// No string "channel" key: either malformed JSON or an envelope we
		// don't know. Distinguish the two for the caller.
		if !json.Valid(data) {
			return nil, errors.Annotatef(err, "parsing inbound frame")
		}

		return &inboundEnvelope{kind: inboundUnrecognized, payload: data}, nil
	}

	switch channel {
	case channelPost:
		var env replyEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, errors.Annotatef(err, "parsing reply frame")
		}

		return &inboundEnvelope{
			kind:         inboundReply,
			channel:      channel,
			requestID:    env.Data.ID,
			responseType: env.Data.Response.Type,
			payload:      env.Data.Response.Payload,
		}, nil

	case channelSubsAck:
		var env subsAckEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, errors.Annotatef(err, "parsing subscription ack frame")
		}

		return &inboundEnvelope{
			kind:    inboundSubsAck,
			channel: env.Data.Subscription.Type,
			method:  env.Data.Method,
			payload: data,
		}, nil

	default:
		// Subscription data push; keep just the data object.
		payload, _, _, err := jsonparser.Get(data, "data")
		if err != nil {
			return &inboundEnvelope{kind: inboundUnrecognized, channel: channel, payload: data}, nil
		}

		return &inboundEnvelope{
			kind:    inboundPush,
			channel: channel,
			payload: payload,
		}, nil
	}
}

// responseTypeError marks an application-level failure inside an otherwise
// well-formed reply; its payload is a human-readable message.
const responseTypeError = "error"

// errorPayloadMessage extracts the server-supplied message from an error
// reply payload. The gateway sends it as a JSON string, but a raw fallback
// keeps misbehaving servers debuggable.
func errorPayloadMessage(payload json.RawMessage) string {
	var msg string
	if err := json.Unmarshal(payload, &msg); err != nil {
		return string(payload)
	}

	return msg
}

// Subscription is a single channel subscription: a channel name plus optional
// filter params (e.g. {"coin": "SOL"} for the trades channel). Two
// subscriptions with the same channel and params are the same subscription.
type Subscription struct {
	Channel string
	Params  map[string]string
}

// key returns the normalized registry key: the channel name followed by the
// filter params in sorted order.
func (s Subscription) key() string {
	if len(s.Params) == 0 {
		return s.Channel
	}

	names := make([]string, 0, len(s.Params))
	for k := range s.Params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(s.Channel)
	for _, k := range names {
		b.WriteByte('?')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Params[k])
	}

	return b.String()
}
