package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// PollFeed drives one market on an exchange with no push channel: every
// cycle fetches a full-depth snapshot and replaces the book. The sequence
// number is synthetic and advances only on successful fetches; consistency
// is last-write-wins per cycle and staleness is purely elapsed time since
// the last success. A failed fetch leaves the existing book untouched.
type PollFeed struct {
	transport SnapshotTransport
	book      *market.OrderBook
	cfg       Config
	log       *zap.Logger

	seq int64
}

// NewPollFeed creates a polling feed owning the given book.
func NewPollFeed(transport SnapshotTransport, book *market.OrderBook, cfg Config, log *zap.Logger) *PollFeed {
	if log == nil {
		log = zap.NewNop()
	}
	return &PollFeed{
		transport: transport,
		book:      book,
		cfg:       cfg,
		log:       log.With(zap.String("exchange", string(book.Exchange())), zap.Stringer("pair", book.Pair())),
	}
}

// Run polls on the configured cadence until ctx is cancelled.
func (f *PollFeed) Run(ctx context.Context) {
	f.PollOnce(ctx)

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single fetch-and-replace cycle.
func (f *PollFeed) PollOnce(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	snap, err := f.transport.FetchSnapshot(fetchCtx, f.book.Pair(), f.cfg.Depth)
	if err != nil {
		f.log.Warn("poll cycle failed", zap.Error(err))
		return
	}
	if err := ValidateLevels(snap.Bids); err != nil {
		f.log.Warn("rejected snapshot", zap.Error(err))
		return
	}
	if err := ValidateLevels(snap.Asks); err != nil {
		f.log.Warn("rejected snapshot", zap.Error(err))
		return
	}

	f.seq++
	f.book.ApplySnapshot(snap.Bids, snap.Asks, f.seq)
}
