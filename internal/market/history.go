package market

import (
	"sync"
	"time"
)

// HistoryBucket is one slot of a ticker's rolling price/volume history,
// used for sparkline-style aggregation.
type HistoryBucket struct {
	Start  time.Time
	High   float64
	Low    float64
	Last   float64
	Volume float64
	Trades int
}

// TradeHistory is the append-only (newest-first) bounded ring of executed
// trades for one ticker, plus the rolling buckets fed from it. Trade
// history is best-effort: gaps in incremental pages are accepted, not
// resynchronized.
type TradeHistory struct {
	mu sync.Mutex

	capacity    int
	items       []TradeHistoryItem // newest first
	granularity time.Duration
	maxBuckets  int
	buckets     []HistoryBucket // oldest first
}

// NewTradeHistory creates an empty history ring. capacity bounds the number
// of retained trades; granularity sets the bucket width.
func NewTradeHistory(capacity int, granularity time.Duration) *TradeHistory {
	if capacity <= 0 {
		capacity = 200
	}
	if granularity <= 0 {
		granularity = time.Minute
	}
	return &TradeHistory{
		capacity:    capacity,
		granularity: granularity,
		maxBuckets:  120,
	}
}

// Refresh replaces the entire history with a freshly fetched page (newest
// first) and rebuilds the rolling buckets from it.
func (h *TradeHistory) Refresh(trades []TradeHistoryItem) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = h.items[:0]
	h.buckets = h.buckets[:0]

	h.items = append(h.items, trades...)
	h.trimLocked()

	// Buckets are fed chronologically, oldest trade first.
	for i := len(h.items) - 1; i >= 0; i-- {
		h.bucketLocked(h.items[i])
	}
}

// MergeNewer merges a freshly fetched page (newest first) into the history.
// Only trades newer than the previously seen newest ID (the anchor) are
// taken; they are inserted at the head in their original order. If no
// anchor is found within the page, the entire page is treated as new.
// It returns the number of trades added.
func (h *TradeHistory) MergeNewer(fetched []TradeHistoryItem) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == 0 {
		h.items = append(h.items, fetched...)
		h.trimLocked()
		for i := len(h.items) - 1; i >= 0; i-- {
			h.bucketLocked(h.items[i])
		}
		return len(h.items)
	}

	anchor := h.items[0].ID
	fresh := fetched
	for i, tr := range fetched {
		if tr.ID == anchor {
			fresh = fetched[:i]
			break
		}
	}
	if len(fresh) == 0 {
		return 0
	}

	h.items = append(append([]TradeHistoryItem(nil), fresh...), h.items...)
	h.trimLocked()

	for i := len(fresh) - 1; i >= 0; i-- {
		h.bucketLocked(fresh[i])
	}
	return len(fresh)
}

// Newest returns the most recent trade, if any.
func (h *TradeHistory) Newest() (TradeHistoryItem, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == 0 {
		return TradeHistoryItem{}, false
	}
	return h.items[0], true
}

// Items returns a copy of the retained trades, newest first.
func (h *TradeHistory) Items() []TradeHistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TradeHistoryItem(nil), h.items...)
}

// Len returns the number of retained trades.
func (h *TradeHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Buckets returns a copy of the rolling buckets, oldest first.
func (h *TradeHistory) Buckets() []HistoryBucket {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryBucket(nil), h.buckets...)
}

// trimLocked enforces the ring bound, dropping the oldest trades.
func (h *TradeHistory) trimLocked() {
	if len(h.items) > h.capacity {
		h.items = h.items[:h.capacity]
	}
}

// bucketLocked routes one trade into its time bucket. Buckets are created
// in order; trades older than the newest bucket fold into it rather than
// reordering the window.
func (h *TradeHistory) bucketLocked(tr TradeHistoryItem) {
	start := tr.Time.Truncate(h.granularity)

	if n := len(h.buckets); n > 0 {
		last := &h.buckets[n-1]
		if !start.After(last.Start) {
			if tr.Rate > last.High {
				last.High = tr.Rate
			}
			if tr.Rate < last.Low {
				last.Low = tr.Rate
			}
			last.Last = tr.Rate
			last.Volume += tr.Amount
			last.Trades++
			return
		}
	}

	h.buckets = append(h.buckets, HistoryBucket{
		Start:  start,
		High:   tr.Rate,
		Low:    tr.Rate,
		Last:   tr.Rate,
		Volume: tr.Amount,
		Trades: 1,
	})
	if len(h.buckets) > h.maxBuckets {
		h.buckets = h.buckets[len(h.buckets)-h.maxBuckets:]
	}
}
