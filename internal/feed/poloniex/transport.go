// Package poloniex implements the feed transports for the streaming
// exchange: REST snapshots plus a WebSocket stream of sequenced diffs.
package poloniex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/donsn/CryptoTradingFramework/internal/feed"
	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// wireFloat decodes the exchange's numeric fields, which arrive either as
// JSON numbers or as quoted decimal strings.
type wireFloat float64

func (f *wireFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = wireFloat(v)
	return nil
}

// --- Raw wire types. Unknown optional fields are ignored by decoding only
// the fields named here. ---

type rawEnvelope struct {
	Event string `json:"event"`
}

type rawBookEvent struct {
	Event        string `json:"event"`
	CurrencyPair string `json:"currencyPair"`
	Seq          int64  `json:"seq"`
	Data         struct {
		Type   string    `json:"type"`
		Rate   wireFloat `json:"rate"`
		Amount wireFloat `json:"amount"`
	} `json:"data"`
}

type rawBook struct {
	Asks [][2]wireFloat `json:"asks"`
	Bids [][2]wireFloat `json:"bids"`
	Seq  int64          `json:"seq"`
}

type rawTicker struct {
	Last       wireFloat `json:"last"`
	LowestAsk  wireFloat `json:"lowestAsk"`
	HighestBid wireFloat `json:"highestBid"`
	BaseVolume wireFloat `json:"baseVolume"`
	Volume     wireFloat `json:"quoteVolume"`
	IsFrozen   wireFloat `json:"isFrozen"`
	Hr24High   wireFloat `json:"high24hr"`
	Hr24Low    wireFloat `json:"low24hr"`
}

type rawTrade struct {
	TradeID int64     `json:"tradeID"`
	Date    string    `json:"date"`
	Type    string    `json:"type"`
	Rate    wireFloat `json:"rate"`
	Amount  wireFloat `json:"amount"`
	Total   wireFloat `json:"total"`
}

type subscribeMsg struct {
	Command string `json:"command"`
	Channel string `json:"channel"`
}

const tradeTimeLayout = "2006-01-02 15:04:05"

// Transport is the streaming exchange's transport: snapshots, tickers and
// trades over REST, sequenced book diffs over the shared WSClient.
type Transport struct {
	baseURL string
	client  *http.Client
	ws      *feed.WSClient
	log     *zap.Logger

	mu   sync.Mutex
	subs map[market.CurrencyPair]chan market.BookDelta
}

// New creates a Transport. The WSClient must be connected by the caller;
// on every reconnect all diff streams are closed so owning feeds restart
// from a fresh snapshot.
func New(baseURL string, ws *feed.WSClient, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		ws:      ws,
		log:     log,
		subs:    make(map[market.CurrencyPair]chan market.BookDelta),
	}
	if ws != nil {
		ws.OnReconnect(t.dropStreams)
	}
	return t
}

// symbol renders a pair in the exchange's BASE_MARKET form.
func symbol(p market.CurrencyPair) string {
	return p.Base + "_" + p.Market
}

func parsePair(s string) (market.CurrencyPair, bool) {
	base, mkt, ok := strings.Cut(s, "_")
	if !ok || base == "" || mkt == "" {
		return market.CurrencyPair{}, false
	}
	return market.CurrencyPair{Base: base, Market: mkt}, true
}

// FetchSnapshot fetches a full-depth order book with its sequence number.
func (t *Transport) FetchSnapshot(ctx context.Context, pair market.CurrencyPair, depth int) (feed.BookSnapshot, error) {
	q := url.Values{}
	q.Set("command", "returnOrderBook")
	q.Set("currencyPair", symbol(pair))
	q.Set("depth", strconv.Itoa(depth))

	var raw rawBook
	if err := t.get(ctx, q, &raw); err != nil {
		return feed.BookSnapshot{}, err
	}

	snap := feed.BookSnapshot{Seq: raw.Seq}
	for _, l := range raw.Bids {
		snap.Bids = append(snap.Bids, market.PriceLevel{Price: float64(l[0]), Amount: float64(l[1])})
	}
	for _, l := range raw.Asks {
		snap.Asks = append(snap.Asks, market.PriceLevel{Price: float64(l[0]), Amount: float64(l[1])})
	}
	return snap, nil
}

// FetchTickers fetches the exchange's full ticker map.
func (t *Transport) FetchTickers(ctx context.Context) ([]market.TickerUpdate, error) {
	q := url.Values{}
	q.Set("command", "returnTicker")

	var raw map[string]rawTicker
	if err := t.get(ctx, q, &raw); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]market.TickerUpdate, 0, len(raw))
	for sym, rt := range raw {
		pair, ok := parsePair(sym)
		if !ok {
			continue
		}
		out = append(out, market.TickerUpdate{
			Pair:       pair,
			Last:       float64(rt.Last),
			HighestBid: float64(rt.HighestBid),
			LowestAsk:  float64(rt.LowestAsk),
			Hr24High:   float64(rt.Hr24High),
			Hr24Low:    float64(rt.Hr24Low),
			Volume:     float64(rt.Volume),
			BaseVolume: float64(rt.BaseVolume),
			IsFrozen:   rt.IsFrozen != 0,
			Time:       now,
		})
	}
	return out, nil
}

// FetchTrades fetches the most recent trades for a market, newest first.
func (t *Transport) FetchTrades(ctx context.Context, pair market.CurrencyPair) ([]market.TradeHistoryItem, error) {
	q := url.Values{}
	q.Set("command", "returnTradeHistory")
	q.Set("currencyPair", symbol(pair))

	var raw []rawTrade
	if err := t.get(ctx, q, &raw); err != nil {
		return nil, err
	}

	out := make([]market.TradeHistoryItem, 0, len(raw))
	for _, rt := range raw {
		ts, err := time.Parse(tradeTimeLayout, rt.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: bad trade date %q", market.ErrProtocol, rt.Date)
		}
		side := market.TradeSell
		if rt.Type == "buy" {
			side = market.TradeBuy
		}
		out = append(out, market.TradeHistoryItem{
			ID:     rt.TradeID,
			Time:   ts,
			Amount: float64(rt.Amount),
			Rate:   float64(rt.Rate),
			Total:  float64(rt.Total),
			Side:   side,
			Fill:   market.FillFull,
		})
	}
	return out, nil
}

// Subscribe registers a diff stream for the pair and sends the channel
// subscription over the WebSocket. The stream closes when the connection
// is lost.
func (t *Transport) Subscribe(ctx context.Context, pair market.CurrencyPair) (<-chan market.BookDelta, error) {
	if t.ws == nil {
		return nil, fmt.Errorf("%w: no websocket configured", market.ErrTransport)
	}

	ch := make(chan market.BookDelta, 1024)
	t.mu.Lock()
	if old, ok := t.subs[pair]; ok {
		close(old)
	}
	t.subs[pair] = ch
	t.mu.Unlock()

	msg, _ := json.Marshal(subscribeMsg{Command: "subscribe", Channel: symbol(pair)})
	t.ws.Send(msg)

	return ch, nil
}

// Run decodes raw WebSocket messages and routes diffs to the subscribed
// streams. It blocks until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) {
	raw := t.ws.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-raw:
			if !ok {
				return
			}
			t.handleMessage(msg)
		}
	}
}

func (t *Transport) handleMessage(raw []byte) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.log.Warn("invalid stream payload", zap.Error(err))
		return
	}

	switch env.Event {
	case "orderBookModify", "orderBookRemove":
		t.handleBookEvent(raw, env.Event == "orderBookRemove")
	case "error":
		t.log.Warn("exchange stream error", zap.ByteString("payload", raw))
	default:
		// heartbeats, ticker pushes on other channels — ignored.
	}
}

func (t *Transport) handleBookEvent(raw []byte, remove bool) {
	var ev rawBookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.log.Warn("failed to parse book event", zap.Error(err))
		return
	}

	pair, ok := parsePair(ev.CurrencyPair)
	if !ok {
		t.log.Warn("book event for unknown pair", zap.String("pair", ev.CurrencyPair))
		return
	}

	d := market.BookDelta{
		Price:  float64(ev.Data.Rate),
		Amount: float64(ev.Data.Amount),
		Seq:    ev.Seq,
	}
	if remove {
		d.Amount = 0
	}
	switch ev.Data.Type {
	case "bid":
		d.Side = market.SideBid
	case "ask":
		d.Side = market.SideAsk
	default:
		t.log.Warn("book event with unknown side", zap.String("side", ev.Data.Type))
		return
	}

	t.mu.Lock()
	ch, subscribed := t.subs[pair]
	t.mu.Unlock()
	if !subscribed {
		return
	}

	select {
	case ch <- d:
	default:
		// Slow feed: dropping creates a gap that the seq gate repairs.
		t.log.Warn("diff stream full, dropping", zap.Stringer("pair", pair))
	}
}

// dropStreams closes every diff stream so owning feeds resynchronize from
// a fresh snapshot after a reconnect.
func (t *Transport) dropStreams() {
	t.mu.Lock()
	for pair, ch := range t.subs {
		close(ch)
		delete(t.subs, pair)
	}
	t.mu.Unlock()
}

func (t *Transport) get(ctx context.Context, q url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/public?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrTransport, err)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrTransport, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", market.ErrTransport, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrTransport, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", market.ErrProtocol, err)
	}
	return nil
}
