package notify

import (
	"context"
	"testing"
	"time"

	"github.com/donsn/CryptoTradingFramework/internal/market"
)

func pair(base, mkt string) market.CurrencyPair {
	return market.CurrencyPair{Base: base, Market: mkt}
}

func TestHub_MultipleSources(t *testing.T) {
	books := NewEmitter(64)
	tickers := NewEmitter(64)

	hub := NewHub(nil)
	hub.Register(books)
	hub.Register(tickers)

	all := hub.SubscribeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go hub.Run(ctx)

	books.Emit(market.Event{Kind: market.EventBookChanged, Exchange: market.ExchangePoloniex, Pair: pair("BTC", "LTC")})
	tickers.Emit(market.Event{Kind: market.EventTickerChanged, Exchange: market.ExchangeBittrex, Pair: pair("BTC", "ETH")})

	received := map[market.EventKind]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all:
			received[ev.Kind] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}

	if !received[market.EventBookChanged] {
		t.Fatal("missing book event on unified stream")
	}
	if !received[market.EventTickerChanged] {
		t.Fatal("missing ticker event on unified stream")
	}
}

func TestHub_KindFilteredSubscribers(t *testing.T) {
	src := NewEmitter(64)

	hub := NewHub(nil)
	hub.Register(src)

	bookSub := hub.Subscribe(market.EventBookChanged)
	arbSub := hub.Subscribe(market.EventArbitrageUpdated)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go hub.Run(ctx)

	src.Emit(market.Event{Kind: market.EventBookChanged, Pair: pair("BTC", "LTC")})
	src.Emit(market.Event{Kind: market.EventArbitrageUpdated, Pair: pair("BTC", "ETH")})

	select {
	case ev := <-bookSub:
		if ev.Kind != market.EventBookChanged {
			t.Fatalf("book subscriber got wrong kind: %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("book subscriber: timed out")
	}

	select {
	case ev := <-arbSub:
		if ev.Kind != market.EventArbitrageUpdated {
			t.Fatalf("arb subscriber got wrong kind: %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("arb subscriber: timed out")
	}

	// Neither channel should have extra messages.
	select {
	case ev := <-bookSub:
		t.Fatalf("book subscriber received unexpected extra event: %+v", ev)
	case ev := <-arbSub:
		t.Fatalf("arb subscriber received unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
		// Good — no stray messages.
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	src := NewEmitter(64)

	hub := NewHub(nil)
	hub.Register(src)

	// slowCh has a tiny buffer that will fill up immediately.
	slowCh := make(chan market.Event, 1)
	hub.mu.Lock()
	hub.subs[market.EventBookChanged] = append(hub.subs[market.EventBookChanged], slowCh)
	hub.mu.Unlock()

	fastSub := hub.Subscribe(market.EventTickerChanged)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go hub.Run(ctx)

	// Fill the slow subscriber's buffer.
	src.Emit(market.Event{Kind: market.EventBookChanged, Pair: pair("BTC", "LTC")})
	time.Sleep(50 * time.Millisecond)

	// The slow channel is now full — further book events drop without
	// blocking the ticker subscriber.
	src.Emit(market.Event{Kind: market.EventBookChanged, Pair: pair("BTC", "LTC")})
	src.Emit(market.Event{Kind: market.EventTickerChanged, Pair: pair("BTC", "ETH")})

	select {
	case ev := <-fastSub:
		if ev.Kind != market.EventTickerChanged {
			t.Fatalf("fast subscriber got wrong kind: %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("fast subscriber was blocked by slow subscriber")
	}
}

func TestEmitter_NonBlockingWhenFull(t *testing.T) {
	e := NewEmitter(1)
	e.Emit(market.Event{Kind: market.EventBookChanged})

	done := make(chan struct{})
	go func() {
		e.Emit(market.Event{Kind: market.EventTickerChanged}) // buffer full — must drop
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
}
