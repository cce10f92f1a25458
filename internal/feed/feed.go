// Package feed produces ticker, order-book, and trade-history updates from
// exchange transports and owns the reconciliation policy for each exchange's
// update model: sequenced incremental push for streaming exchanges, full
// snapshot polling for the rest.
package feed

import (
	"context"
	"time"

	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// BookSnapshot is a full, authoritative replacement of a book's contents at
// a given sequence point.
type BookSnapshot struct {
	Bids []market.PriceLevel
	Asks []market.PriceLevel
	Seq  int64
}

// SnapshotTransport fetches full-depth order book snapshots. Failures are
// reported as errors wrapping market.ErrTransport or market.ErrProtocol,
// never as panics into the core.
type SnapshotTransport interface {
	FetchSnapshot(ctx context.Context, pair market.CurrencyPair, depth int) (BookSnapshot, error)
}

// StreamTransport extends SnapshotTransport with a pushed stream of
// sequenced diffs. The returned channel is closed when the underlying
// connection is lost; the caller resubscribes.
type StreamTransport interface {
	SnapshotTransport
	Subscribe(ctx context.Context, pair market.CurrencyPair) (<-chan market.BookDelta, error)
}

// TickerTransport fetches the exchange's full ticker map.
type TickerTransport interface {
	FetchTickers(ctx context.Context) ([]market.TickerUpdate, error)
}

// TradeTransport fetches the most recent trades for a market, newest first.
type TradeTransport interface {
	FetchTrades(ctx context.Context, pair market.CurrencyPair) ([]market.TradeHistoryItem, error)
}

// Config holds cadence and sizing parameters shared by the feed loops.
type Config struct {
	// Depth requested on snapshot fetches.
	Depth int

	// PollInterval is the cadence of the polling feed's snapshot cycle.
	PollInterval time.Duration

	// TickerInterval is the cadence of ticker-map refreshes.
	TickerInterval time.Duration

	// TradeInterval is the cadence of trade-history refreshes.
	TradeInterval time.Duration

	// FetchTimeout bounds any single transport call. A fetch that exceeds
	// it is a cycle failure, not a fatal error.
	FetchTimeout time.Duration

	// RetryInterval is the pause before reconnect attempts on the
	// streaming path.
	RetryInterval time.Duration
}

// DefaultConfig returns cadence defaults suitable for public market data.
func DefaultConfig() Config {
	return Config{
		Depth:          50,
		PollInterval:   2 * time.Second,
		TickerInterval: 5 * time.Second,
		TradeInterval:  10 * time.Second,
		FetchTimeout:   10 * time.Second,
		RetryInterval:  time.Second,
	}
}
