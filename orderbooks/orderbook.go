package orderbooks

import (
	"encoding/json"
	"strconv"

	"github.com/juju/errors"
)

// Level is a single price level of an l2 book. Price and Size are kept as
// the venue's decimal strings to avoid float drift; NumOrders is the order
// count at that level.
type Level struct {
	Price     string `json:"px"`
	Size      string `json:"sz"`
	NumOrders int    `json:"n"`
}

// Book is one l2 book snapshot for a coin. Bids and Asks are sorted
// best-first, as delivered by the venue. Time is the venue's millisecond
// timestamp.
//
// It is not thread-safe; if you need to use it from more than one goroutine,
// apply your own synchronization.
type Book struct {
	Coin string
	Time int64
	Bids []Level
	Asks []Level
}

// bookWire is the venue's l2Book shape: levels[0] is bids, levels[1] asks.
type bookWire struct {
	Coin   string    `json:"coin"`
	Time   int64     `json:"time"`
	Levels [][]Level `json:"levels"`
}

// ParseBook parses an l2Book message, either a websocket push or an /info
// response; both carry the same shape.
func ParseBook(data []byte) (*Book, error) {
	var wire bookWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.Annotatef(err, "parsing l2 book")
	}

	if len(wire.Levels) != 2 {
		return nil, errors.Errorf("malformed l2 book: %d level sides", len(wire.Levels))
	}

	return &Book{
		Coin: wire.Coin,
		Time: wire.Time,
		Bids: wire.Levels[0],
		Asks: wire.Levels[1],
	}, nil
}

// BestBid returns the top bid level, or nil for an empty side.
func (b *Book) BestBid() *Level {
	if len(b.Bids) == 0 {
		return nil
	}
	return &b.Bids[0]
}

// BestAsk returns the top ask level, or nil for an empty side.
func (b *Book) BestAsk() *Level {
	if len(b.Asks) == 0 {
		return nil
	}
	return &b.Asks[0]
}

// MidPrice returns the midpoint between the best bid and ask. It fails on a
// one-sided or empty book.
func (b *Book) MidPrice() (float64, error) {
	bid, ask, err := b.topOfBook()
	if err != nil {
		return 0, errors.Trace(err)
	}

	return (bid + ask) / 2, nil
}

// Spread returns the distance between the best ask and bid.
func (b *Book) Spread() (float64, error) {
	bid, ask, err := b.topOfBook()
	if err != nil {
		return 0, errors.Trace(err)
	}

	return ask - bid, nil
}

func (b *Book) topOfBook() (bid, ask float64, err error) {
	bestBid := b.BestBid()
	bestAsk := b.BestAsk()
	if bestBid == nil || bestAsk == nil {
		return 0, 0, errors.Errorf("book for %s is one-sided", b.Coin)
	}

	bid, err = strconv.ParseFloat(bestBid.Price, 64)
	if err != nil {
		return 0, 0, errors.Annotatef(err, "bid price %q", bestBid.Price)
	}

	ask, err = strconv.ParseFloat(bestAsk.Price, 64)
	if err != nil {
		return 0, 0, errors.Annotatef(err, "ask price %q", bestAsk.Price)
	}

	return bid, ask, nil
}
