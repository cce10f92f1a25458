package market

import (
	"sync"
	"time"
)

// Exchange identifies the source of market data.
type Exchange string

const (
	ExchangePoloniex Exchange = "poloniex"
	ExchangeBittrex  Exchange = "bittrex"
)

// CurrencyPair is the unique key of a market within one exchange's ticker
// set: base currency quoted against the market currency.
type CurrencyPair struct {
	Base   string
	Market string
}

func (p CurrencyPair) String() string {
	return p.Base + "-" + p.Market
}

// Side distinguishes the two ladders of an order book.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// PriceLevel represents a single bid or ask at a given price.
type PriceLevel struct {
	Price  float64
	Amount float64
}

// BookDelta is a single sequenced price-level change relative to a known
// snapshot. Amount == 0 means the level was removed.
type BookDelta struct {
	Side   Side
	Price  float64
	Amount float64
	Seq    int64
}

// TradeSide marks whether the aggressor bought or sold.
type TradeSide int

const (
	TradeBuy TradeSide = iota
	TradeSell
)

// FillKind distinguishes complete fills from partial ones.
type FillKind int

const (
	FillFull FillKind = iota
	FillPartial
)

// TradeHistoryItem is one executed trade as reported by an exchange.
// ID is exchange-assigned and is the dedup anchor for incremental merges.
type TradeHistoryItem struct {
	ID     int64
	Time   time.Time
	Amount float64
	Rate   float64
	Total  float64
	Side   TradeSide
	Fill   FillKind
}

// TickerUpdate carries one refresh of a ticker's public fields.
type TickerUpdate struct {
	Pair       CurrencyPair
	Last       float64
	HighestBid float64
	LowestAsk  float64
	Hr24High   float64
	Hr24Low    float64
	Volume     float64
	BaseVolume float64
	IsFrozen   bool
	Time       time.Time
}

// TickerInfo is the live state of one market on one exchange. It is owned
// by its registry and mutated only by that exchange's feed; all access to
// the mutable fields goes through the embedded mutex.
type TickerInfo struct {
	mu sync.Mutex

	Exchange Exchange
	Pair     CurrencyPair
	Index    int // stable insertion order within the registry

	last       float64
	highestBid float64
	lowestAsk  float64
	hr24High   float64
	hr24Low    float64
	volume     float64
	baseVolume float64
	isFrozen   bool
	lastUpdate time.Time

	history *TradeHistory
}

// TickerView is an immutable copy of a ticker's state, safe to read without
// holding the ticker's lock.
type TickerView struct {
	Exchange   Exchange
	Pair       CurrencyPair
	Index      int
	Last       float64
	HighestBid float64
	LowestAsk  float64
	Hr24High   float64
	Hr24Low    float64
	Volume     float64
	BaseVolume float64
	IsFrozen   bool
	LastUpdate time.Time
}

func (t *TickerInfo) apply(u TickerUpdate) {
	t.mu.Lock()
	t.last = u.Last
	t.highestBid = u.HighestBid
	t.lowestAsk = u.LowestAsk
	t.hr24High = u.Hr24High
	t.hr24Low = u.Hr24Low
	t.volume = u.Volume
	t.baseVolume = u.BaseVolume
	t.isFrozen = u.IsFrozen
	t.lastUpdate = u.Time
	t.mu.Unlock()
}

// View returns a consistent copy of the ticker's current state.
func (t *TickerInfo) View() TickerView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TickerView{
		Exchange:   t.Exchange,
		Pair:       t.Pair,
		Index:      t.Index,
		Last:       t.last,
		HighestBid: t.highestBid,
		LowestAsk:  t.lowestAsk,
		Hr24High:   t.hr24High,
		Hr24Low:    t.hr24Low,
		Volume:     t.volume,
		BaseVolume: t.baseVolume,
		IsFrozen:   t.isFrozen,
		LastUpdate: t.lastUpdate,
	}
}

// History returns the ticker's trade history buffer.
func (t *TickerInfo) History() *TradeHistory {
	return t.history
}

// EventKind classifies notifications emitted by the core.
type EventKind int

const (
	EventBookChanged EventKind = iota
	EventTickerChanged
	EventArbitrageUpdated
)

func (k EventKind) String() string {
	return []string{"book_changed", "ticker_changed", "arbitrage_updated"}[k]
}

// BookReason says what kind of mutation produced a book change event.
type BookReason int

const (
	ReasonSnapshot BookReason = iota
	ReasonIncremental
)

func (r BookReason) String() string {
	if r == ReasonSnapshot {
		return "snapshot"
	}
	return "incremental"
}

// Event is the unified change notification used across the core. Consumers
// (arbitrage engine, Redis publisher, logging) operate on this type
// regardless of origin. Dispatch is fire-and-forget; an Event must never
// carry pointers into locked state.
type Event struct {
	Kind     EventKind
	Exchange Exchange
	Pair     CurrencyPair
	Reason   BookReason // set for EventBookChanged

	// Best-of-book at the time of the change, for EventBookChanged.
	BestBid PriceLevel
	BestAsk PriceLevel

	// Opportunity figures, for EventArbitrageUpdated.
	Spread     float64
	Earning    float64
	EarningUSD float64
	IsActual   bool

	Timestamp time.Time
}
