package orderbooks

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/juju/errors"
)

const (
	// defaultStaleAfter is how long a book may go without a push before it
	// is considered stale and a REST snapshot is requested.
	defaultStaleAfter = 30 * time.Second

	getSnapshotTimeout = 10 * time.Second
)

type getSnapshotResult struct {
	book *Book
	err  error
}

// BookUpdater maintains the up-to-date l2 book for one coin by consuming
// live snapshots (typically fed to it from websocket pushes), falling back
// to REST when the stream goes quiet.
type BookUpdater struct {
	params BookUpdaterParams

	booksChan             chan *Book
	staleChan             chan struct{}
	getSnapshotResultChan chan getSnapshotResult
	addUpdateCB           chan OnUpdateCB
	stopChan              chan struct{}

	curBook *Book

	updateCBs []OnUpdateCB

	// staleTimer fires when no fresh book arrived for StaleAfter.
	staleTimer *clock.Timer

	// fetchSnapshotTimer is a timer which fires when we need to request a new
	// snapshot from the REST API.
	fetchSnapshotTimer *clock.Timer
	// fetchSnapshotAttempt represents how many times in a row we tried to
	// fetch a new snapshot from the REST API.
	fetchSnapshotAttempt int

	// isLive reflects whether the book is being kept current by the stream.
	// Needed only for sending StateUpdate.
	isLive bool

	// If firstSyncing is true, we'll be syncing the first time after the
	// updater was created; this is needed to use a smaller randomized delay
	// before fetching a snapshot.
	firstSyncing bool
}

// BookUpdaterParams contains params for creating a new book updater.
type BookUpdaterParams struct {
	// Coin filters HandlePush frames; pushes for other coins are ignored.
	Coin string

	// SnapshotGetter is optional; it returns an up-to-date book, typically
	// from the REST API. See NewBookSnapshotGetterREST.
	//
	// If SnapshotGetter is not set, the BookUpdater will just wait for the
	// next book from the websocket.
	SnapshotGetter BookSnapshotGetter

	// StaleAfter overrides defaultStaleAfter.
	StaleAfter time.Duration

	// Below are mockables; should only be set for tests. By default, prod
	// values will be used.

	clock clock.Clock

	// getSnapshotDelay returns the delay before fetching a snapshot from the
	// REST API.
	getSnapshotDelay func(firstSyncing bool, fetchSnapshotAttempt int) time.Duration

	// gettingSnapshot is called right before running a goroutine with
	// GetBookSnapshot. It's a no-op for prod.
	gettingSnapshot func()

	// internalEvent is called right after processing an event in eventLoop.
	// It's a no-op for prod.
	internalEvent func(ie internalEvent)
}

// NewBookUpdater creates a new book updater with the provided params.
func NewBookUpdater(params *BookUpdaterParams) *BookUpdater {
	bu := &BookUpdater{
		params: *params,

		booksChan:             make(chan *Book, 1),
		staleChan:             make(chan struct{}, 1),
		getSnapshotResultChan: make(chan getSnapshotResult, 1),
		addUpdateCB:           make(chan OnUpdateCB, 1),
		stopChan:              make(chan struct{}),

		firstSyncing: true,
	}

	// Set prod values for mockables by default.

	if bu.params.StaleAfter == 0 {
		bu.params.StaleAfter = defaultStaleAfter
	}

	if bu.params.clock == nil {
		bu.params.clock = clock.New()
	}

	if bu.params.getSnapshotDelay == nil {
		bu.params.getSnapshotDelay = getSnapshotDelayDefault
	}

	if bu.params.gettingSnapshot == nil {
		bu.params.gettingSnapshot = func() {}
	}

	if bu.params.internalEvent == nil {
		bu.params.internalEvent = func(ie internalEvent) {}
	}

	bu.getSnapshotFromAPIAfterTimeout()

	go bu.eventLoop()

	return bu
}

// HandlePush should be called for each websocket push frame; it ignores
// channels other than l2Book and books for other coins. Intended to be wired
// straight into an OnPush listener.
func (bu *BookUpdater) HandlePush(channel string, data []byte) error {
	if channel != "l2Book" {
		return nil
	}

	book, err := ParseBook(data)
	if err != nil {
		return errors.Trace(err)
	}

	if bu.params.Coin != "" && book.Coin != bu.params.Coin {
		return nil
	}

	bu.ReceiveBook(book)
	return nil
}

// ReceiveBook should be called when a new book snapshot is received from the
// websocket. If it's fresher than the current book, the OnUpdate callbacks
// will be called shortly.
func (bu *BookUpdater) ReceiveBook(book *Book) {
	bu.booksChan <- book
}

type OnUpdateCB func(update Update)

type Update struct {
	Book             *Book
	StateUpdate      *StateUpdate
	GetSnapshotError error
}

// OnUpdate registers a new callback which will be called when an update is
// available: either a state update or a book update. The callbacks are
// called from the same internal eventloop, so they are never called
// concurrently with each other, and the callback shouldn't block.
func (bu *BookUpdater) OnUpdate(cb OnUpdateCB) {
	bu.addUpdateCB <- cb
}

// StateUpdate is delivered to handlers (registered with OnUpdate) when the
// book goes live or stale; see IsLive field.
type StateUpdate struct {
	// IsLive is true while fresh books keep arriving from the stream.
	IsLive bool

	// LastTime is the venue timestamp of the current book, 0 if none was
	// received yet.
	LastTime int64
}

func (su *StateUpdate) String() string {
	if su.IsLive {
		return "Live"
	}

	return fmt.Sprintf("Stale: last book at %d", su.LastTime)
}

// Close stops the event loop; after that the BookUpdater can't be used
// anymore.
func (bu *BookUpdater) Close() error {
	close(bu.stopChan)
	return nil
}

// receiveBookInternal should only be called from the eventLoop.
func (bu *BookUpdater) receiveBookInternal(book *Book) {
	// The stream delivers full snapshots, so an out-of-order one can simply
	// be dropped.
	if bu.curBook != nil && book.Time <= bu.curBook.Time {
		return
	}

	bu.curBook = book
	bu.resetStaleTimer()
	bu.setLive(true)

	bu.callUpdateCBs(Update{
		Book: book,
	})
}

// setLive should only be called from the eventLoop.
func (bu *BookUpdater) setLive(live bool) {
	if bu.isLive == live {
		return
	}
	bu.isLive = live

	if live {
		bu.firstSyncing = false

		if bu.fetchSnapshotTimer != nil {
			// Fetching a snapshot from the API was scheduled, but the stream
			// delivered a book before that, so cancel reaching the API.
			bu.fetchSnapshotTimer.Stop()
			bu.resetSnapshotTimer()
		}
	}

	bu.callUpdateCBs(Update{
		StateUpdate: bu.getStateUpdate(),
	})
}

// resetStaleTimer should only be called from the eventLoop.
func (bu *BookUpdater) resetStaleTimer() {
	if bu.staleTimer != nil {
		bu.staleTimer.Stop()
	}

	bu.staleTimer = bu.params.clock.AfterFunc(bu.params.StaleAfter, func() {
		select {
		case bu.staleChan <- struct{}{}:
		default:
		}
	})
}

// getSnapshotFromAPIAfterTimeout should only be called from the eventLoop
// (or before it starts).
func (bu *BookUpdater) getSnapshotFromAPIAfterTimeout() {
	if bu.params.SnapshotGetter == nil {
		// SnapshotGetter wasn't provided, so just wait for the next book
		// from the websocket.
		return
	}

	if bu.fetchSnapshotTimer != nil {
		// Snapshot fetching is already scheduled, so nothing to do here.
		return
	}

	delay := bu.params.getSnapshotDelay(bu.firstSyncing, bu.fetchSnapshotAttempt)

	bu.fetchSnapshotTimer = bu.params.clock.AfterFunc(delay, func() {
		// For testability, we shouldn't block in this callback, because it's
		// called synchronously by the time-mocking package. So here we just
		// announce that we're going to get a snapshot, and then start another
		// goroutine which actually calls GetBookSnapshot.

		bu.params.gettingSnapshot()

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), getSnapshotTimeout)
			defer cancel()

			book, err := bu.params.SnapshotGetter.GetBookSnapshot(ctx)
			bu.getSnapshotResultChan <- getSnapshotResult{
				book: book,
				err:  err,
			}
		}()
	})
}

// resetSnapshotTimer should only be called from the eventLoop.
func (bu *BookUpdater) resetSnapshotTimer() {
	bu.fetchSnapshotTimer = nil
	bu.fetchSnapshotAttempt = 0
}

// callUpdateCBs should only be called from the eventLoop.
func (bu *BookUpdater) callUpdateCBs(update Update) {
	for _, cb := range bu.updateCBs {
		cb(update)
	}
}

// getStateUpdate should only be called from the eventLoop.
func (bu *BookUpdater) getStateUpdate() *StateUpdate {
	ret := &StateUpdate{
		IsLive: bu.isLive,
	}

	if bu.curBook != nil {
		ret.LastTime = bu.curBook.Time
	}

	return ret
}

type internalEvent int

const (
	internalEventBookHandled internalEvent = iota
	internalEventWentStale
	internalEventGetSnapshotResultHandled
)

func (bu *BookUpdater) eventLoop() {
	for {
		select {
		case book := <-bu.booksChan:
			bu.receiveBookInternal(book)
			bu.params.internalEvent(internalEventBookHandled)

		case <-bu.staleChan:
			bu.setLive(false)
			bu.getSnapshotFromAPIAfterTimeout()
			bu.params.internalEvent(internalEventWentStale)

		case res := <-bu.getSnapshotResultChan:
			if res.err != nil {
				// Got an error while fetching a snapshot; reset the timer so
				// that fetching gets scheduled again, with a longer delay.
				bu.fetchSnapshotTimer = nil
				bu.fetchSnapshotAttempt += 1

				// Let the client code know about that error.
				bu.callUpdateCBs(Update{
					GetSnapshotError: errors.Trace(res.err),
				})

				bu.getSnapshotFromAPIAfterTimeout()

				bu.params.internalEvent(internalEventGetSnapshotResultHandled)
				break
			}

			// Reset attempts counter and timer.
			bu.resetSnapshotTimer()

			bu.receiveBookInternal(res.book)

			bu.params.internalEvent(internalEventGetSnapshotResultHandled)

		case cb := <-bu.addUpdateCB:
			bu.updateCBs = append(bu.updateCBs, cb)

		case <-bu.stopChan:
			return
		}
	}
}

// getSnapshotDelayDefault calculates a delay before fetching a snapshot:
// 5 seconds more after each subsequent attempt, but not more than 30 seconds,
// plus a randomized part.
func getSnapshotDelayDefault(firstSyncing bool, fetchSnapshotAttempt int) time.Duration {
	delay := time.Duration(fetchSnapshotAttempt) * 5 * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}

	// When syncing for the first time, fetch quickly to get a book before
	// the first push shows up; afterwards spread the load out.
	if firstSyncing {
		delay += 800*time.Millisecond + time.Duration(rand.Int31n(500))*time.Millisecond
	} else {
		delay += time.Duration(rand.Int31n(10)) * time.Second
	}

	return delay
}
