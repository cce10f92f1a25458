package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// mockRedis records every HSet call for assertion.
type mockRedis struct {
	mu    sync.Mutex
	calls []hsetCall
}

type hsetCall struct {
	Key    string
	Fields map[string]string
}

func (m *mockRedis) HSet(_ context.Context, key string, values ...any) error {
	fields := make(map[string]string)
	for i := 0; i+1 < len(values); i += 2 {
		k, _ := values[i].(string)
		v, _ := values[i+1].(string)
		fields[k] = v
	}
	m.mu.Lock()
	m.calls = append(m.calls, hsetCall{Key: key, Fields: fields})
	m.mu.Unlock()
	return nil
}

func (m *mockRedis) getCalls() []hsetCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]hsetCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func TestRedisWriter_BookKey(t *testing.T) {
	mock := &mockRedis{}
	feed := make(chan market.Event, 8)

	rw := NewRedisWriter(mock, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go rw.Run(ctx)

	ts := time.UnixMilli(1700000000000)
	feed <- market.Event{
		Kind:      market.EventBookChanged,
		Exchange:  market.ExchangePoloniex,
		Pair:      pair("BTC", "LTC"),
		BestBid:   market.PriceLevel{Price: 0.0172, Amount: 30},
		BestAsk:   market.PriceLevel{Price: 0.0175, Amount: 25},
		Timestamp: ts,
	}

	// Wait for the write to propagate.
	deadline := time.After(time.Second)
	for {
		calls := mock.getCalls()
		if len(calls) > 0 {
			c := calls[0]
			if c.Key != "book:poloniex:BTC-LTC" {
				t.Fatalf("wrong key: %s", c.Key)
			}
			if c.Fields["bid"] != "0.0172" {
				t.Fatalf("expected bid '0.0172', got %q", c.Fields["bid"])
			}
			if c.Fields["ask"] != "0.0175" {
				t.Fatalf("expected ask '0.0175', got %q", c.Fields["ask"])
			}
			if c.Fields["ts"] != "1700000000000" {
				t.Fatalf("expected ts '1700000000000', got %q", c.Fields["ts"])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for HSET call")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRedisWriter_DuplicateSuppression(t *testing.T) {
	mock := &mockRedis{}
	feed := make(chan market.Event, 8)

	rw := NewRedisWriter(mock, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go rw.Run(ctx)

	base := market.Event{
		Kind:      market.EventBookChanged,
		Exchange:  market.ExchangeBittrex,
		Pair:      pair("BTC", "ETH"),
		BestBid:   market.PriceLevel{Price: 0.048, Amount: 300},
		BestAsk:   market.PriceLevel{Price: 0.054, Amount: 200},
		Timestamp: time.UnixMilli(1000),
	}

	// Send the same prices three times.
	feed <- base

	dup := base
	dup.Timestamp = time.UnixMilli(2000)
	feed <- dup

	dup2 := base
	dup2.Timestamp = time.UnixMilli(3000)
	feed <- dup2

	time.Sleep(200 * time.Millisecond)

	calls := mock.getCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 HSET call (duplicates suppressed), got %d", len(calls))
	}

	// A changed price triggers a second write.
	changed := base
	changed.BestBid = market.PriceLevel{Price: 0.05, Amount: 100}
	changed.Timestamp = time.UnixMilli(4000)
	feed <- changed

	time.Sleep(200 * time.Millisecond)

	calls = mock.getCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 HSET calls after price change, got %d", len(calls))
	}
	if calls[1].Fields["bid"] != "0.05" {
		t.Fatalf("expected updated bid '0.05', got %q", calls[1].Fields["bid"])
	}
}

func TestRedisWriter_ArbKey(t *testing.T) {
	mock := &mockRedis{}
	feed := make(chan market.Event, 8)

	rw := NewRedisWriter(mock, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go rw.Run(ctx)

	feed <- market.Event{
		Kind:       market.EventArbitrageUpdated,
		Pair:       pair("BTC", "LTC"),
		Spread:     5,
		Earning:    4.795,
		EarningUSD: 287700,
		IsActual:   true,
		Timestamp:  time.UnixMilli(2000),
	}

	deadline := time.After(time.Second)
	for {
		calls := mock.getCalls()
		if len(calls) > 0 {
			c := calls[0]
			if c.Key != "arb:BTC-LTC" {
				t.Fatalf("wrong key: %s", c.Key)
			}
			if c.Fields["spread"] != "5" {
				t.Fatalf("expected spread '5', got %q", c.Fields["spread"])
			}
			if c.Fields["earning"] != "4.795" {
				t.Fatalf("expected earning '4.795', got %q", c.Fields["earning"])
			}
			if c.Fields["actual"] != "true" {
				t.Fatalf("expected actual 'true', got %q", c.Fields["actual"])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for HSET call")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRedisWriter_ArbActualityFlipWrites(t *testing.T) {
	mock := &mockRedis{}
	feed := make(chan market.Event, 8)

	rw := NewRedisWriter(mock, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go rw.Run(ctx)

	ev := market.Event{
		Kind:      market.EventArbitrageUpdated,
		Pair:      pair("BTC", "ETH"),
		Spread:    1.5,
		Earning:   1.2,
		IsActual:  true,
		Timestamp: time.UnixMilli(1000),
	}
	feed <- ev

	// Same figures but flipped actuality must not be suppressed.
	flipped := ev
	flipped.IsActual = false
	flipped.Timestamp = time.UnixMilli(2000)
	feed <- flipped

	time.Sleep(200 * time.Millisecond)

	calls := mock.getCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 HSET calls across an actuality flip, got %d", len(calls))
	}
	if calls[1].Fields["actual"] != "false" {
		t.Fatalf("expected actual 'false' after flip, got %q", calls[1].Fields["actual"])
	}
}
