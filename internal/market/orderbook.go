package market

import (
	"sort"
	"sync"
	"time"
)

// BookConfig holds tunable parameters for an OrderBook's out-of-order
// buffering.
type BookConfig struct {
	// MaxPending is the maximum number of buffered out-of-order diffs
	// before the book demands a resync.
	MaxPending int

	// MaxPendingAge is the maximum time a diff may sit in the pending
	// queue before the book demands a resync.
	MaxPendingAge time.Duration
}

// DefaultBookConfig returns defaults tuned for typical exchange feeds.
func DefaultBookConfig() BookConfig {
	return BookConfig{
		MaxPending:    64,
		MaxPendingAge: 5 * time.Second,
	}
}

type pendingDelta struct {
	delta    BookDelta
	buffered time.Time
}

// OrderBook is the per-market bid/ask ladder. Bids are kept descending by
// price, asks ascending, with no duplicate price level on either side.
// SeqNumber is monotonic; -1 means no sequenced snapshot has been applied
// yet. Mutation is exclusive under the book's lock and the whole snapshot
// or diff is the atomic unit — readers never observe a half-applied update.
type OrderBook struct {
	mu sync.RWMutex

	exchange Exchange
	pair     CurrencyPair
	cfg      BookConfig

	bids []PriceLevel // descending by price
	asks []PriceLevel // ascending by price
	seq  int64

	pending map[int64]pendingDelta

	notify  func(Event)
	nowFunc func() time.Time
}

// NewOrderBook creates an empty, unsequenced order book for one market.
func NewOrderBook(exchange Exchange, pair CurrencyPair, cfg BookConfig) *OrderBook {
	return &OrderBook{
		exchange: exchange,
		pair:     pair,
		cfg:      cfg,
		seq:      -1,
		pending:  make(map[int64]pendingDelta),
		nowFunc:  time.Now,
	}
}

// OnChange registers the change-notification callback. Must be set before
// the owning feed starts mutating the book. The callback is invoked once
// per external call (snapshot or incremental), not once per price level.
func (b *OrderBook) OnChange(fn func(Event)) {
	b.notify = fn
}

// Exchange returns the owning exchange id.
func (b *OrderBook) Exchange() Exchange { return b.exchange }

// Pair returns the book's currency pair.
func (b *OrderBook) Pair() CurrencyPair { return b.pair }

// Seq returns the current sequence number (-1 if unsequenced).
func (b *OrderBook) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// ApplySnapshot atomically replaces both sides of the book and resets the
// sequence number. Buffered diffs at or below the new sequence are dropped;
// newer ones stay queued for DrainPending.
func (b *OrderBook) ApplySnapshot(bids, asks []PriceLevel, seq int64) {
	b.mu.Lock()

	b.bids = sortedCopy(bids, true)
	b.asks = sortedCopy(asks, false)
	b.seq = seq

	for s := range b.pending {
		if s <= seq {
			delete(b.pending, s)
		}
	}

	ev := b.changeEvent(ReasonSnapshot)
	b.mu.Unlock()

	b.emit(ev)
}

// ApplyIncremental applies one sequenced diff. A duplicate or late diff
// (seq at or below the current sequence) is discarded. A diff exactly one
// ahead is applied in place, after which any consecutively buffered diffs
// are replayed. A diff further ahead is buffered; once the pending queue
// exceeds its bounded size or age, ErrSequenceGap is returned and the
// owning feed must refresh the snapshot.
func (b *OrderBook) ApplyIncremental(d BookDelta) error {
	b.mu.Lock()

	if b.seq >= 0 && d.Seq <= b.seq {
		b.mu.Unlock()
		return nil // duplicate or late: idempotent no-op
	}

	if b.seq >= 0 && d.Seq == b.seq+1 {
		b.applyLevel(d)
		b.seq = d.Seq
		b.drainLocked()
		ev := b.changeEvent(ReasonIncremental)
		b.mu.Unlock()
		b.emit(ev)
		return nil
	}

	// Gap (or no snapshot yet): buffer keyed by seq.
	if _, dup := b.pending[d.Seq]; !dup {
		b.pending[d.Seq] = pendingDelta{delta: d, buffered: b.nowFunc()}
	}

	err := b.pendingOverflowLocked()
	b.mu.Unlock()
	return err
}

// DrainPending replays buffered diffs whose sequence is exactly the
// expected next value, in ascending order, stopping at the first remaining
// gap. It returns the number of diffs applied. Intended to be called after
// a snapshot refresh.
func (b *OrderBook) DrainPending() int {
	b.mu.Lock()
	n := b.drainLocked()
	var ev Event
	if n > 0 {
		ev = b.changeEvent(ReasonIncremental)
	}
	b.mu.Unlock()

	if n > 0 {
		b.emit(ev)
	}
	return n
}

// PendingLen returns the number of buffered out-of-order diffs.
func (b *OrderBook) PendingLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pending)
}

// BestBid returns the highest bid level, if any.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 {
		return PriceLevel{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest ask level, if any.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 {
		return PriceLevel{}, false
	}
	return b.asks[0], true
}

// Snapshot returns copies of both ladders and the current sequence number.
func (b *OrderBook) Snapshot() (bids, asks []PriceLevel, seq int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bids = append([]PriceLevel(nil), b.bids...)
	asks = append([]PriceLevel(nil), b.asks...)
	return bids, asks, b.seq
}

// drainLocked replays consecutively sequenced pending diffs. Caller holds b.mu.
func (b *OrderBook) drainLocked() int {
	applied := 0
	for {
		pd, ok := b.pending[b.seq+1]
		if !ok {
			return applied
		}
		delete(b.pending, b.seq+1)
		b.applyLevel(pd.delta)
		b.seq++
		applied++
	}
}

// pendingOverflowLocked reports ErrSequenceGap once the queue breaches its
// size or age bound. Caller holds b.mu.
func (b *OrderBook) pendingOverflowLocked() error {
	if len(b.pending) > b.cfg.MaxPending {
		return ErrSequenceGap
	}
	now := b.nowFunc()
	for _, pd := range b.pending {
		if now.Sub(pd.buffered) > b.cfg.MaxPendingAge {
			return ErrSequenceGap
		}
	}
	return nil
}

// applyLevel upserts or removes a single price level. Caller holds b.mu.
func (b *OrderBook) applyLevel(d BookDelta) {
	if d.Side == SideBid {
		b.bids = upsertLevel(b.bids, d, true)
	} else {
		b.asks = upsertLevel(b.asks, d, false)
	}
}

// upsertLevel keeps the ladder sorted (bids descending, asks ascending)
// using binary search; amount zero removes the level.
func upsertLevel(levels []PriceLevel, d BookDelta, descending bool) []PriceLevel {
	i := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price <= d.Price
		}
		return levels[i].Price >= d.Price
	})

	exists := i < len(levels) && levels[i].Price == d.Price

	if d.Amount == 0 {
		if exists {
			return append(levels[:i], levels[i+1:]...)
		}
		return levels
	}

	if exists {
		levels[i].Amount = d.Amount
		return levels
	}

	levels = append(levels, PriceLevel{})
	copy(levels[i+1:], levels[i:])
	levels[i] = PriceLevel{Price: d.Price, Amount: d.Amount}
	return levels
}

func sortedCopy(levels []PriceLevel, descending bool) []PriceLevel {
	out := append([]PriceLevel(nil), levels...)
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// changeEvent builds the notification for the current state. Caller holds b.mu.
func (b *OrderBook) changeEvent(reason BookReason) Event {
	ev := Event{
		Kind:      EventBookChanged,
		Exchange:  b.exchange,
		Pair:      b.pair,
		Reason:    reason,
		Timestamp: b.nowFunc(),
	}
	if len(b.bids) > 0 {
		ev.BestBid = b.bids[0]
	}
	if len(b.asks) > 0 {
		ev.BestAsk = b.asks[0]
	}
	return ev
}

func (b *OrderBook) emit(ev Event) {
	if b.notify != nil {
		b.notify(ev)
	}
}
