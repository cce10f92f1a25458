package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// TickerFeed periodically refreshes an exchange's full ticker map into its
// registry. Both exchange variants use it; streaming exchanges simply run
// it at a tighter cadence alongside their book stream.
type TickerFeed struct {
	transport TickerTransport
	registry  *market.TickerRegistry
	cfg       Config
	log       *zap.Logger
}

// NewTickerFeed creates a ticker refresh loop for one exchange.
func NewTickerFeed(transport TickerTransport, registry *market.TickerRegistry, cfg Config, log *zap.Logger) *TickerFeed {
	if log == nil {
		log = zap.NewNop()
	}
	return &TickerFeed{
		transport: transport,
		registry:  registry,
		cfg:       cfg,
		log:       log.With(zap.String("exchange", string(registry.Exchange()))),
	}
}

// Run refreshes tickers on the configured cadence until ctx is cancelled.
func (f *TickerFeed) Run(ctx context.Context) {
	f.RefreshOnce(ctx)

	ticker := time.NewTicker(f.cfg.TickerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce runs a single ticker-map refresh cycle.
func (f *TickerFeed) RefreshOnce(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	updates, err := f.transport.FetchTickers(fetchCtx)
	if err != nil {
		f.log.Warn("ticker refresh failed", zap.Error(err))
		return
	}
	for _, u := range updates {
		f.registry.Upsert(u)
	}
}

// TradeFeed periodically refreshes one market's trade history. The first
// successful fetch replaces the history; later fetches merge only trades
// newer than the stored anchor.
type TradeFeed struct {
	transport TradeTransport
	registry  *market.TickerRegistry
	pair      market.CurrencyPair
	cfg       Config
	log       *zap.Logger

	refreshed bool
}

// NewTradeFeed creates a trade refresh loop for one market.
func NewTradeFeed(transport TradeTransport, registry *market.TickerRegistry, pair market.CurrencyPair, cfg Config, log *zap.Logger) *TradeFeed {
	if log == nil {
		log = zap.NewNop()
	}
	return &TradeFeed{
		transport: transport,
		registry:  registry,
		pair:      pair,
		cfg:       cfg,
		log:       log.With(zap.String("exchange", string(registry.Exchange())), zap.Stringer("pair", pair)),
	}
}

// Run refreshes trades on the configured cadence until ctx is cancelled.
func (f *TradeFeed) Run(ctx context.Context) {
	f.RefreshOnce(ctx)

	ticker := time.NewTicker(f.cfg.TradeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce runs a single trade-history refresh cycle. If the ticker is
// not yet known to the registry the cycle is skipped.
func (f *TradeFeed) RefreshOnce(ctx context.Context) {
	tk, ok := f.registry.Lookup(f.pair)
	if !ok {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	trades, err := f.transport.FetchTrades(fetchCtx, f.pair)
	if err != nil {
		f.log.Warn("trade refresh failed", zap.Error(err))
		return
	}

	if !f.refreshed {
		tk.History().Refresh(trades)
		f.refreshed = true
		return
	}
	if n := tk.History().MergeNewer(trades); n > 0 {
		f.log.Debug("merged trades", zap.Int("count", n))
	}
}
