// Package arb pairs tickers by currency pair across exchanges and computes
// ranked, fee-adjusted arbitrage opportunities.
package arb

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// FeeSource reports an exchange's published taker-fee rate for a pair.
type FeeSource interface {
	TakerFee(exchange market.Exchange, pair market.CurrencyPair) float64
}

// RateSource reports the USD reference price of a base currency.
type RateSource interface {
	UsdRate(baseCurrency string) float64
}

// BookView is the read surface the engine needs from an order book.
// Satisfied by *market.OrderBook.
type BookView interface {
	BestBid() (market.PriceLevel, bool)
	BestAsk() (market.PriceLevel, bool)
}

// Opportunity is one cross-exchange arbitrage computation for a pair. It is
// recomputed in place, never persisted; when IsActual is false the numeric
// fields are retained for display but must be treated as non-actionable.
type Opportunity struct {
	Pair market.CurrencyPair

	AskExchange market.Exchange
	AskPrice    float64
	BidExchange market.Exchange
	BidPrice    float64

	Spread         float64 // BidPrice − AskPrice; negative is a valid no-opportunity state
	TradableAmount float64
	Earning        float64
	EarningUSD     float64

	IsActual   bool
	LastUpdate time.Time
}

// SortKey selects the ordering of Snapshot.
type SortKey int

const (
	SortBySpread SortKey = iota
	SortByEarning
)

// Config holds the engine's tunable parameters.
type Config struct {
	// MaxPosition caps TradableAmount.
	MaxPosition float64

	// StalenessWindow is the maximum age of a contributing ticker before
	// the opportunity stops being actionable.
	StalenessWindow time.Duration
}

type bookKey struct {
	Exchange market.Exchange
	Pair     market.CurrencyPair
}

// Engine maintains, for every currency pair observed on at least two
// exchanges, the current best-ask and best-bid exchange and the resulting
// fee-adjusted earning. Recomputation is synchronous with the triggering
// event and costs O(exchanges per pair).
type Engine struct {
	cfg   Config
	fees  FeeSource
	rates RateSource
	log   *zap.Logger

	nowFunc func() time.Time
	notify  func(market.Event)

	mu         sync.RWMutex
	exchanges  []market.Exchange // ascending: the fixed global lock order
	registries map[market.Exchange]*market.TickerRegistry
	books      map[bookKey]BookView
	opps       map[market.CurrencyPair]*Opportunity
}

// NewEngine creates an engine with no exchanges registered.
func NewEngine(cfg Config, fees FeeSource, rates RateSource, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		fees:       fees,
		rates:      rates,
		log:        log,
		nowFunc:    time.Now,
		registries: make(map[market.Exchange]*market.TickerRegistry),
		books:      make(map[bookKey]BookView),
		opps:       make(map[market.CurrencyPair]*Opportunity),
	}
}

// OnUpdate registers the notification callback for recomputed opportunities.
func (e *Engine) OnUpdate(fn func(market.Event)) {
	e.notify = fn
}

// RegisterExchange adds an exchange's ticker registry. Exchanges are kept
// in ascending id order; ticker locks are always taken in that order, which
// prevents lock-order inversion when a computation reads two tickers.
func (e *Engine) RegisterExchange(reg *market.TickerRegistry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex := reg.Exchange()
	if _, dup := e.registries[ex]; dup {
		return
	}
	e.registries[ex] = reg
	e.exchanges = append(e.exchanges, ex)
	sort.Slice(e.exchanges, func(i, j int) bool { return e.exchanges[i] < e.exchanges[j] })
}

// RegisterBook attaches a book view used for depth at the best levels.
func (e *Engine) RegisterBook(exchange market.Exchange, pair market.CurrencyPair, view BookView) {
	e.mu.Lock()
	e.books[bookKey{Exchange: exchange, Pair: pair}] = view
	e.mu.Unlock()
}

// Run consumes ticker and book change events, recomputing the affected pair
// for each. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, events <-chan market.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == market.EventTickerChanged || ev.Kind == market.EventBookChanged {
				e.Recompute(ev.Pair)
			}
		}
	}
}

// Recompute re-derives the opportunity for one pair and replaces the cached
// entry in place. Pairs contributed by fewer than two exchanges are skipped.
func (e *Engine) Recompute(pair market.CurrencyPair) {
	e.mu.RLock()
	exchanges := append([]market.Exchange(nil), e.exchanges...)
	registries := e.registries
	e.mu.RUnlock()

	// Ticker locks are acquired one at a time in ascending exchange order.
	views := make([]market.TickerView, 0, len(exchanges))
	for _, ex := range exchanges {
		tk, ok := registries[ex].Lookup(pair)
		if !ok {
			continue
		}
		views = append(views, tk.View())
	}
	if len(views) < 2 {
		return
	}

	var (
		askView, bidView market.TickerView
		haveAsk, haveBid bool
	)
	for _, v := range views {
		if v.LowestAsk > 0 && (!haveAsk || v.LowestAsk < askView.LowestAsk) {
			askView, haveAsk = v, true
		}
		if v.HighestBid > 0 && (!haveBid || v.HighestBid > bidView.HighestBid) {
			bidView, haveBid = v, true
		}
	}
	if !haveAsk || !haveBid {
		return
	}

	now := e.nowFunc()
	opp := &Opportunity{
		Pair:        pair,
		AskExchange: askView.Exchange,
		AskPrice:    askView.LowestAsk,
		BidExchange: bidView.Exchange,
		BidPrice:    bidView.HighestBid,
		Spread:      bidView.HighestBid - askView.LowestAsk,
		LastUpdate:  now,
	}

	opp.TradableAmount = e.tradableAmount(askView, bidView, pair)

	askFee := e.fees.TakerFee(askView.Exchange, pair) * opp.AskPrice * opp.TradableAmount
	bidFee := e.fees.TakerFee(bidView.Exchange, pair) * opp.BidPrice * opp.TradableAmount
	opp.Earning = opp.TradableAmount*opp.Spread - askFee - bidFee
	if e.rates != nil {
		opp.EarningUSD = opp.Earning * e.rates.UsdRate(pair.Base)
	}

	opp.IsActual = e.isActual(askView, bidView, now)

	e.mu.Lock()
	e.opps[pair] = opp
	e.mu.Unlock()

	e.emit(*opp)
}

// tradableAmount is the depth available at the contributing best levels,
// capped by the configured maximum position size. A side without a
// registered book contributes no depth cap.
func (e *Engine) tradableAmount(askView, bidView market.TickerView, pair market.CurrencyPair) float64 {
	amount := e.cfg.MaxPosition

	e.mu.RLock()
	askBook := e.books[bookKey{Exchange: askView.Exchange, Pair: pair}]
	bidBook := e.books[bookKey{Exchange: bidView.Exchange, Pair: pair}]
	e.mu.RUnlock()

	if askBook != nil {
		if best, ok := askBook.BestAsk(); ok && best.Amount < amount {
			amount = best.Amount
		}
	}
	if bidBook != nil {
		if best, ok := bidBook.BestBid(); ok && best.Amount < amount {
			amount = best.Amount
		}
	}
	return amount
}

func (e *Engine) isActual(askView, bidView market.TickerView, now time.Time) bool {
	return now.Sub(askView.LastUpdate) <= e.cfg.StalenessWindow &&
		now.Sub(bidView.LastUpdate) <= e.cfg.StalenessWindow
}

// RefreshActuality re-evaluates every opportunity's staleness flag from the
// contributing tickers' current update times. Numeric fields are never
// altered; an event is emitted only when a flag flips.
func (e *Engine) RefreshActuality() {
	now := e.nowFunc()

	e.mu.RLock()
	pairs := make([]market.CurrencyPair, 0, len(e.opps))
	for p := range e.opps {
		pairs = append(pairs, p)
	}
	registries := e.registries
	e.mu.RUnlock()

	for _, pair := range pairs {
		e.mu.RLock()
		opp, ok := e.opps[pair]
		if !ok {
			e.mu.RUnlock()
			continue
		}
		askEx, bidEx, wasActual := opp.AskExchange, opp.BidExchange, opp.IsActual
		e.mu.RUnlock()

		actual := false
		askReg, okAsk := registries[askEx]
		bidReg, okBid := registries[bidEx]
		if okAsk && okBid {
			askTk, okA := askReg.Lookup(pair)
			bidTk, okB := bidReg.Lookup(pair)
			if okA && okB {
				actual = now.Sub(askTk.View().LastUpdate) <= e.cfg.StalenessWindow &&
					now.Sub(bidTk.View().LastUpdate) <= e.cfg.StalenessWindow
			}
		}

		if actual == wasActual {
			continue
		}

		e.mu.Lock()
		opp.IsActual = actual
		copied := *opp
		e.mu.Unlock()

		e.emit(copied)
	}
}

// Opportunity returns the cached computation for a pair, if any.
func (e *Engine) Opportunity(pair market.CurrencyPair) (Opportunity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	opp, ok := e.opps[pair]
	if !ok {
		return Opportunity{}, false
	}
	return *opp, true
}

// Snapshot returns a copy of all opportunities ordered descending by the
// given key.
func (e *Engine) Snapshot(by SortKey) []Opportunity {
	e.mu.RLock()
	out := make([]Opportunity, 0, len(e.opps))
	for _, opp := range e.opps {
		out = append(out, *opp)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if by == SortByEarning {
			return out[i].Earning > out[j].Earning
		}
		return out[i].Spread > out[j].Spread
	})
	return out
}

func (e *Engine) emit(opp Opportunity) {
	if e.notify == nil {
		return
	}
	e.notify(market.Event{
		Kind:       market.EventArbitrageUpdated,
		Pair:       opp.Pair,
		Spread:     opp.Spread,
		Earning:    opp.Earning,
		EarningUSD: opp.EarningUSD,
		IsActual:   opp.IsActual,
		Timestamp:  opp.LastUpdate,
	})
}
