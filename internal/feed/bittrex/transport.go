// Package bittrex implements the feed transports for the polling exchange:
// full-depth order books, market summaries, and trade pages over REST. The
// exchange has no push channel, so there is nothing to subscribe to.
package bittrex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/donsn/CryptoTradingFramework/internal/feed"
	"github.com/donsn/CryptoTradingFramework/internal/market"
)

// envelope is the exchange's uniform response wrapper. Success false is an
// exchange-reported failure flag and maps to a protocol failure.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type rawLevel struct {
	Quantity float64 `json:"Quantity"`
	Rate     float64 `json:"Rate"`
}

type rawBook struct {
	Buy  []rawLevel `json:"buy"`
	Sell []rawLevel `json:"sell"`
}

type rawSummary struct {
	MarketName string  `json:"MarketName"`
	High       float64 `json:"High"`
	Low        float64 `json:"Low"`
	Volume     float64 `json:"Volume"`
	Last       float64 `json:"Last"`
	BaseVolume float64 `json:"BaseVolume"`
	TimeStamp  string  `json:"TimeStamp"`
	Bid        float64 `json:"Bid"`
	Ask        float64 `json:"Ask"`
}

type rawTrade struct {
	ID        int64   `json:"Id"`
	TimeStamp string  `json:"TimeStamp"`
	Quantity  float64 `json:"Quantity"`
	Price     float64 `json:"Price"`
	Total     float64 `json:"Total"`
	FillType  string  `json:"FillType"`
	OrderType string  `json:"OrderType"`
}

const timeLayout = "2006-01-02T15:04:05.999"

// Transport is the polling exchange's REST transport.
type Transport struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

// New creates a Transport rooted at the exchange's public API base URL.
func New(baseURL string, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

// symbol renders a pair in the exchange's BASE-MARKET form.
func symbol(p market.CurrencyPair) string {
	return p.Base + "-" + p.Market
}

func parsePair(s string) (market.CurrencyPair, bool) {
	base, mkt, ok := strings.Cut(s, "-")
	if !ok || base == "" || mkt == "" {
		return market.CurrencyPair{}, false
	}
	return market.CurrencyPair{Base: base, Market: mkt}, true
}

// FetchSnapshot fetches both sides of a market's order book. The exchange
// assigns no sequence numbers; the owning poll feed supplies synthetic ones.
func (t *Transport) FetchSnapshot(ctx context.Context, pair market.CurrencyPair, depth int) (feed.BookSnapshot, error) {
	q := url.Values{}
	q.Set("market", symbol(pair))
	q.Set("type", "both")

	var raw rawBook
	if err := t.get(ctx, "/public/getorderbook", q, &raw); err != nil {
		return feed.BookSnapshot{}, err
	}

	snap := feed.BookSnapshot{Seq: 0}
	bids := raw.Buy
	if depth > 0 && len(bids) > depth {
		bids = bids[:depth]
	}
	asks := raw.Sell
	if depth > 0 && len(asks) > depth {
		asks = asks[:depth]
	}
	for _, l := range bids {
		snap.Bids = append(snap.Bids, market.PriceLevel{Price: l.Rate, Amount: l.Quantity})
	}
	for _, l := range asks {
		snap.Asks = append(snap.Asks, market.PriceLevel{Price: l.Rate, Amount: l.Quantity})
	}
	return snap, nil
}

// FetchTickers fetches summaries for every market on the exchange.
func (t *Transport) FetchTickers(ctx context.Context) ([]market.TickerUpdate, error) {
	var raw []rawSummary
	if err := t.get(ctx, "/public/getmarketsummaries", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]market.TickerUpdate, 0, len(raw))
	for _, rs := range raw {
		pair, ok := parsePair(rs.MarketName)
		if !ok {
			continue
		}
		ts, err := time.Parse(timeLayout, rs.TimeStamp)
		if err != nil {
			ts = time.Now()
		}
		out = append(out, market.TickerUpdate{
			Pair:       pair,
			Last:       rs.Last,
			HighestBid: rs.Bid,
			LowestAsk:  rs.Ask,
			Hr24High:   rs.High,
			Hr24Low:    rs.Low,
			Volume:     rs.Volume,
			BaseVolume: rs.BaseVolume,
			Time:       ts,
		})
	}
	return out, nil
}

// FetchTrades fetches the most recent trades for a market, newest first.
func (t *Transport) FetchTrades(ctx context.Context, pair market.CurrencyPair) ([]market.TradeHistoryItem, error) {
	q := url.Values{}
	q.Set("market", symbol(pair))

	var raw []rawTrade
	if err := t.get(ctx, "/public/getmarkethistory", q, &raw); err != nil {
		return nil, err
	}

	out := make([]market.TradeHistoryItem, 0, len(raw))
	for _, rt := range raw {
		ts, err := time.Parse(timeLayout, rt.TimeStamp)
		if err != nil {
			return nil, fmt.Errorf("%w: bad trade timestamp %q", market.ErrProtocol, rt.TimeStamp)
		}
		side := market.TradeSell
		if rt.OrderType == "BUY" {
			side = market.TradeBuy
		}
		fill := market.FillFull
		if rt.FillType == "PARTIAL_FILL" {
			fill = market.FillPartial
		}
		out = append(out, market.TradeHistoryItem{
			ID:     rt.ID,
			Time:   ts,
			Amount: rt.Quantity,
			Rate:   rt.Price,
			Total:  rt.Total,
			Side:   side,
			Fill:   fill,
		})
	}
	return out, nil
}

func (t *Transport) get(ctx context.Context, path string, q url.Values, v any) error {
	u := t.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
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

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %v", market.ErrProtocol, err)
	}
	if !env.Success {
		return fmt.Errorf("%w: exchange reported failure: %s", market.ErrProtocol, env.Message)
	}
	if err := json.Unmarshal(env.Result, v); err != nil {
		return fmt.Errorf("%w: %v", market.ErrProtocol, err)
	}
	return nil
}
