package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// RedisClient abstracts the Redis operations used by RedisWriter.
// In production this is satisfied by GoRedisClient; in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
}

// GoRedisClient adapts *redis.Client to the RedisClient interface.
type GoRedisClient struct {
	C *redis.Client
}

func (g GoRedisClient) HSet(ctx context.Context, key string, values ...any) error {
	return g.C.HSet(ctx, key, values...).Err()
}

// bookSnapshot holds the last-written best bid/ask for a market so
// duplicate writes can be skipped.
type bookSnapshot struct {
	Bid string
	Ask string
}

type arbSnapshot struct {
	Spread  string
	Earning string
	Actual  bool
}

// RedisWriter subscribes to the hub's unified stream and mirrors best
// bid/ask and opportunity figures into Redis:
//
//	book:{exchange}:{base}-{market}  → bid, ask, ts
//	arb:{base}-{market}              → spread, earning, earning_usd, actual, ts
//
// Writes are non-blocking for the hub: events are buffered internally and
// flushed by a dedicated goroutine. Duplicate values are suppressed.
type RedisWriter struct {
	client RedisClient
	feed   <-chan market.Event
	buf    chan market.Event

	mu       sync.Mutex
	lastBook map[string]bookSnapshot
	lastArb  map[string]arbSnapshot
}

// NewRedisWriter creates a RedisWriter reading from the hub's SubscribeAll
// channel.
func NewRedisWriter(client RedisClient, feed <-chan market.Event) *RedisWriter {
	return &RedisWriter{
		client:   client,
		feed:     feed,
		buf:      make(chan market.Event, 1024),
		lastBook: make(map[string]bookSnapshot),
		lastArb:  make(map[string]arbSnapshot),
	}
}

// Run starts the ingestion and flush goroutines and blocks until ctx is
// cancelled.
func (rw *RedisWriter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	// Ingestion: drain the hub feed into the internal buffer so the hub
	// is never blocked.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-rw.feed:
				if !ok {
					return
				}
				select {
				case rw.buf <- ev:
				default:
					// Buffer full — drop to keep up.
				}
			}
		}
	}()

	// Flusher: write buffered events to Redis.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-rw.buf:
				if !ok {
					return
				}
				rw.write(ctx, ev)
			}
		}
	}()

	wg.Wait()
}

func (rw *RedisWriter) write(ctx context.Context, ev market.Event) {
	switch ev.Kind {
	case market.EventBookChanged:
		rw.writeBook(ctx, ev)
	case market.EventArbitrageUpdated:
		rw.writeArb(ctx, ev)
	}
}

func (rw *RedisWriter) writeBook(ctx context.Context, ev market.Event) {
	key := fmt.Sprintf("book:%s:%s", ev.Exchange, ev.Pair)
	bid := formatPrice(ev.BestBid.Price)
	ask := formatPrice(ev.BestAsk.Price)

	rw.mu.Lock()
	prev, exists := rw.lastBook[key]
	if exists && prev.Bid == bid && prev.Ask == ask {
		rw.mu.Unlock()
		return
	}
	rw.lastBook[key] = bookSnapshot{Bid: bid, Ask: ask}
	rw.mu.Unlock()

	ts := strconv.FormatInt(ev.Timestamp.UnixMilli(), 10)
	rw.client.HSet(ctx, key, "bid", bid, "ask", ask, "ts", ts)
}

func (rw *RedisWriter) writeArb(ctx context.Context, ev market.Event) {
	key := fmt.Sprintf("arb:%s", ev.Pair)
	spread := formatPrice(ev.Spread)
	earning := formatPrice(ev.Earning)

	rw.mu.Lock()
	prev, exists := rw.lastArb[key]
	if exists && prev.Spread == spread && prev.Earning == earning && prev.Actual == ev.IsActual {
		rw.mu.Unlock()
		return
	}
	rw.lastArb[key] = arbSnapshot{Spread: spread, Earning: earning, Actual: ev.IsActual}
	rw.mu.Unlock()

	ts := strconv.FormatInt(ev.Timestamp.UnixMilli(), 10)
	rw.client.HSet(ctx, key,
		"spread", spread,
		"earning", earning,
		"earning_usd", formatPrice(ev.EarningUSD),
		"actual", strconv.FormatBool(ev.IsActual),
		"ts", ts,
	)
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
