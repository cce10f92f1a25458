package market

import (
	"sync"
	"time"
)

// TickerRegistry is the indexed collection of live tickers for one exchange.
// Tickers keep their insertion-order Index for the lifetime of the process;
// updates mutate the existing entry under its own lock.
type TickerRegistry struct {
	mu       sync.RWMutex
	exchange Exchange
	byPair   map[CurrencyPair]*TickerInfo
	ordered  []*TickerInfo

	historyCap  int
	granularity time.Duration

	notify func(Event)
}

// NewTickerRegistry creates an empty registry for one exchange. historyCap
// bounds each ticker's trade-history ring; granularity sets the rolling
// history bucket width.
func NewTickerRegistry(exchange Exchange, historyCap int, granularity time.Duration) *TickerRegistry {
	return &TickerRegistry{
		exchange:    exchange,
		byPair:      make(map[CurrencyPair]*TickerInfo),
		historyCap:  historyCap,
		granularity: granularity,
	}
}

// OnChange registers the ticker-change notification callback.
func (r *TickerRegistry) OnChange(fn func(Event)) {
	r.notify = fn
}

// Exchange returns the registry's exchange id.
func (r *TickerRegistry) Exchange() Exchange { return r.exchange }

// Upsert applies a ticker update, creating the ticker on first sight. It
// returns the live entry and emits a TickerChanged event.
func (r *TickerRegistry) Upsert(u TickerUpdate) *TickerInfo {
	r.mu.Lock()
	t, ok := r.byPair[u.Pair]
	if !ok {
		t = &TickerInfo{
			Exchange: r.exchange,
			Pair:     u.Pair,
			Index:    len(r.ordered),
			history:  NewTradeHistory(r.historyCap, r.granularity),
		}
		r.byPair[u.Pair] = t
		r.ordered = append(r.ordered, t)
	}
	r.mu.Unlock()

	t.apply(u)

	if r.notify != nil {
		r.notify(Event{
			Kind:      EventTickerChanged,
			Exchange:  r.exchange,
			Pair:      u.Pair,
			Timestamp: u.Time,
		})
	}
	return t
}

// Lookup returns the live ticker for a pair, if present.
func (r *TickerRegistry) Lookup(pair CurrencyPair) (*TickerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byPair[pair]
	return t, ok
}

// Tickers returns the tickers in insertion order. The slice is a copy; the
// entries are the live objects.
func (r *TickerRegistry) Tickers() []*TickerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*TickerInfo(nil), r.ordered...)
}

// Pairs returns the currency pairs known to this registry, in insertion order.
func (r *TickerRegistry) Pairs() []CurrencyPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CurrencyPair, len(r.ordered))
	for i, t := range r.ordered {
		out[i] = t.Pair
	}
	return out
}

// Len returns the number of tracked tickers.
func (r *TickerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}
