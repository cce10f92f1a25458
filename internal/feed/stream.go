package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// StreamState is the streaming feed's connection/synchronization state.
type StreamState int32

const (
	StateDisconnected StreamState = iota
	StateSnapshotPending
	StateSynced
	StateGapDetected
)

func (s StreamState) String() string {
	return []string{"disconnected", "snapshot_pending", "synced", "gap_detected"}[s]
}

// StreamFeed drives one market on an exchange that pushes sequenced diffs
// after an initial snapshot fetch. State machine:
//
//	Disconnected → SnapshotPending → Synced → (GapDetected → SnapshotPending)
//
// Transport failures abort only the current cycle; prior book state is
// retained and consumers see it age out via staleness timestamps. State is
// never deleted on disconnect.
type StreamFeed struct {
	transport StreamTransport
	book      *market.OrderBook
	cfg       Config
	log       *zap.Logger

	state     atomic.Int32
	resyncing atomic.Bool
}

// NewStreamFeed creates a feed for the book's market. The feed owns the
// book: nothing else may mutate it.
func NewStreamFeed(transport StreamTransport, book *market.OrderBook, cfg Config, log *zap.Logger) *StreamFeed {
	if log == nil {
		log = zap.NewNop()
	}
	f := &StreamFeed{
		transport: transport,
		book:      book,
		cfg:       cfg,
		log:       log.With(zap.String("exchange", string(book.Exchange())), zap.Stringer("pair", book.Pair())),
	}
	f.state.Store(int32(StateDisconnected))
	return f
}

// State returns the feed's current state.
func (f *StreamFeed) State() StreamState {
	return StreamState(f.state.Load())
}

// Run subscribes and processes diffs until ctx is cancelled. Each lost
// connection restarts at SnapshotPending.
func (f *StreamFeed) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if !f.cycle(ctx) {
			return
		}
		f.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.RetryInterval):
		}
	}
}

// cycle performs one connect-snapshot-consume pass. It returns false only
// when ctx is cancelled.
func (f *StreamFeed) cycle(ctx context.Context) bool {
	f.setState(StateSnapshotPending)

	if err := f.refreshSnapshot(ctx); err != nil {
		f.log.Warn("snapshot fetch failed", zap.Error(err))
		return ctx.Err() == nil
	}

	diffs, err := f.transport.Subscribe(ctx, f.book.Pair())
	if err != nil {
		f.log.Warn("subscribe failed", zap.Error(err))
		return ctx.Err() == nil
	}

	f.setState(StateSynced)

	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-diffs:
			if !ok {
				// Stream closed: reconnect from scratch.
				return true
			}
			f.handleDelta(ctx, d)
		}
	}
}

func (f *StreamFeed) handleDelta(ctx context.Context, d market.BookDelta) {
	if err := ValidateDelta(d); err != nil {
		f.log.Warn("rejected diff", zap.Error(err))
		return
	}

	if err := f.book.ApplyIncremental(d); errors.Is(err, market.ErrSequenceGap) {
		f.setState(StateGapDetected)
		f.resync(ctx)
	}
}

// resync refreshes the snapshot after a detected gap and replays buffered
// diffs. Debounced: at most one outstanding resync per market.
func (f *StreamFeed) resync(ctx context.Context) {
	if !f.resyncing.CompareAndSwap(false, true) {
		return
	}
	defer f.resyncing.Store(false)

	f.setState(StateSnapshotPending)
	if err := f.refreshSnapshot(ctx); err != nil {
		f.log.Warn("resync snapshot failed", zap.Error(err))
		// The next gapped diff retries; existing state stays untouched.
		return
	}
	f.setState(StateSynced)
}

func (f *StreamFeed) refreshSnapshot(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	snap, err := f.transport.FetchSnapshot(fetchCtx, f.book.Pair(), f.cfg.Depth)
	if err != nil {
		return err
	}
	if err := ValidateLevels(snap.Bids); err != nil {
		return err
	}
	if err := ValidateLevels(snap.Asks); err != nil {
		return err
	}

	f.book.ApplySnapshot(snap.Bids, snap.Asks, snap.Seq)
	if n := f.book.DrainPending(); n > 0 {
		f.log.Debug("replayed buffered diffs", zap.Int("count", n))
	}
	return nil
}

func (f *StreamFeed) setState(s StreamState) {
	f.state.Store(int32(s))
}
