package orderbooks

import (
	"context"

	"github.com/juju/errors"

	"github.com/hypereth-io/hypereth-sdk-go/venues/hyperliquid"
)

// BookSnapshotGetter gets an up-to-date book snapshot. Typically clients
// should use BookSnapshotGetterREST, which gets it from the /info endpoint.
//
// This exists because after a reconnect, or when a market is quiet, waiting
// for the next websocket push can take a while; fetching over REST gets the
// book live again right away.
type BookSnapshotGetter interface {
	GetBookSnapshot(ctx context.Context) (*Book, error)
}

var _ BookSnapshotGetter = &BookSnapshotGetterREST{}

// BookSnapshotGetterREST implements BookSnapshotGetter on top of the
// Hyperliquid /info l2Book request.
type BookSnapshotGetterREST struct {
	client *hyperliquid.Client
	coin   string
}

func NewBookSnapshotGetterREST(client *hyperliquid.Client, coin string) *BookSnapshotGetterREST {
	return &BookSnapshotGetterREST{
		client: client,
		coin:   coin,
	}
}

func (sg *BookSnapshotGetterREST) GetBookSnapshot(ctx context.Context) (*Book, error) {
	raw, err := sg.client.L2Book(ctx, sg.coin)
	if err != nil {
		return nil, errors.Trace(err)
	}

	book, err := ParseBook(raw)
	return book, errors.Trace(err)
}
