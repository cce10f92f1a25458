package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// fakeSnapshots is a SnapshotTransport returning scripted results.
type fakeSnapshots struct {
	mu      sync.Mutex
	results []snapshotResult
	fetches int
}

type snapshotResult struct {
	snap BookSnapshot
	err  error
}

func (f *fakeSnapshots) FetchSnapshot(_ context.Context, _ market.CurrencyPair, _ int) (BookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.fetches
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.fetches++
	return f.results[i].snap, f.results[i].err
}

func TestPollFeed_SyntheticSequenceAdvances(t *testing.T) {
	book := market.NewOrderBook(market.ExchangeBittrex, testPair(), market.DefaultBookConfig())
	transport := &fakeSnapshots{results: []snapshotResult{
		{snap: BookSnapshot{Bids: []market.PriceLevel{{Price: 100, Amount: 1}}}},
		{snap: BookSnapshot{Bids: []market.PriceLevel{{Price: 101, Amount: 2}}}},
	}}

	feed := NewPollFeed(transport, book, DefaultConfig(), nil)

	feed.PollOnce(context.Background())
	if seq := book.Seq(); seq != 1 {
		t.Fatalf("expected synthetic seq 1 after first poll, got %d", seq)
	}

	feed.PollOnce(context.Background())
	if seq := book.Seq(); seq != 2 {
		t.Fatalf("expected synthetic seq 2 after second poll, got %d", seq)
	}

	best, _ := book.BestBid()
	if best.Price != 101 {
		t.Fatalf("last poll wins: expected best bid 101, got %+v", best)
	}
}

func TestPollFeed_FailedFetchKeepsBook(t *testing.T) {
	book := market.NewOrderBook(market.ExchangeBittrex, testPair(), market.DefaultBookConfig())
	transport := &fakeSnapshots{results: []snapshotResult{
		{snap: BookSnapshot{Bids: []market.PriceLevel{{Price: 100, Amount: 1}}}},
		{err: market.ErrTransport},
	}}

	feed := NewPollFeed(transport, book, DefaultConfig(), nil)

	feed.PollOnce(context.Background())
	feed.PollOnce(context.Background())

	if seq := book.Seq(); seq != 1 {
		t.Fatalf("failed poll must not advance the sequence, got %d", seq)
	}
	best, ok := book.BestBid()
	if !ok || best.Price != 100 {
		t.Fatalf("failed poll must keep the previous book, got %+v", best)
	}
}

func TestPollFeed_RejectsInvalidSnapshot(t *testing.T) {
	book := market.NewOrderBook(market.ExchangeBittrex, testPair(), market.DefaultBookConfig())
	transport := &fakeSnapshots{results: []snapshotResult{
		{snap: BookSnapshot{Bids: []market.PriceLevel{{Price: 100, Amount: 1}}}},
		{snap: BookSnapshot{Bids: []market.PriceLevel{{Price: -5, Amount: 1}}}},
	}}

	feed := NewPollFeed(transport, book, DefaultConfig(), nil)

	feed.PollOnce(context.Background())
	feed.PollOnce(context.Background())

	if seq := book.Seq(); seq != 1 {
		t.Fatalf("invalid snapshot must not advance the sequence, got %d", seq)
	}
	best, _ := book.BestBid()
	if best.Price != 100 {
		t.Fatalf("invalid snapshot must keep the previous book, got %+v", best)
	}
}

func TestPollFeed_RunPollsOnCadence(t *testing.T) {
	book := market.NewOrderBook(market.ExchangeBittrex, testPair(), market.DefaultBookConfig())
	transport := &fakeSnapshots{results: []snapshotResult{
		{snap: BookSnapshot{Bids: []market.PriceLevel{{Price: 100, Amount: 1}}}},
	}}

	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond

	feed := NewPollFeed(transport, book, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	waitFor(t, "repeated polls", func() bool { return book.Seq() >= 3 })
}
