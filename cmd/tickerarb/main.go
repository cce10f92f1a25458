package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/donsn/CryptoTradingFramework/internal/arb"
	"github.com/donsn/CryptoTradingFramework/internal/config"
	"github.com/donsn/CryptoTradingFramework/internal/feed"
	"github.com/donsn/CryptoTradingFramework/internal/feed/bittrex"
	"github.com/donsn/CryptoTradingFramework/internal/feed/poloniex"
	"github.com/donsn/CryptoTradingFramework/internal/logging"
	"github.com/donsn/CryptoTradingFramework/internal/market"
	"github.com/donsn/CryptoTradingFramework/internal/notify"
)

// configFees maps each exchange to its configured taker fee.
type configFees struct {
	byExchange map[market.Exchange]float64
}

func (f configFees) TakerFee(ex market.Exchange, _ market.CurrencyPair) float64 {
	return f.byExchange[ex]
}

// configRates serves USD reference prices from configuration.
type configRates map[string]float64

func (r configRates) UsdRate(base string) float64 { return r[base] }

func parsePair(s string) (market.CurrencyPair, bool) {
	base, mkt, ok := strings.Cut(s, "-")
	if !ok || base == "" || mkt == "" {
		return market.CurrencyPair{}, false
	}
	return market.CurrencyPair{Base: base, Market: mkt}, true
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log)
	defer log.Sync()

	log.Info("tickerarb starting", zap.String("env", cfg.Env), zap.Strings("pairs", cfg.Pairs))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pairs := make([]market.CurrencyPair, 0, len(cfg.Pairs))
	for _, s := range cfg.Pairs {
		pair, ok := parsePair(s)
		if !ok {
			log.Warn("skipping malformed pair", zap.String("pair", s))
			continue
		}
		pairs = append(pairs, pair)
	}
	if len(pairs) == 0 {
		log.Fatal("no valid pairs configured")
	}

	feedCfg := feed.Config{
		Depth:          cfg.Feed.Depth,
		PollInterval:   cfg.Feed.PollInterval(),
		TickerInterval: cfg.Feed.TickerInterval(),
		TradeInterval:  cfg.Feed.TradeInterval(),
		FetchTimeout:   cfg.Feed.FetchTimeout(),
		RetryInterval:  cfg.Feed.RetryInterval(),
	}
	bookCfg := market.BookConfig{
		MaxPending:    cfg.Feed.PendingLimit,
		MaxPendingAge: cfg.Feed.PendingMaxAge(),
	}

	// Registries and event plumbing.
	poloReg := market.NewTickerRegistry(market.ExchangePoloniex, cfg.History.Capacity, cfg.History.Granularity())
	bittrexReg := market.NewTickerRegistry(market.ExchangeBittrex, cfg.History.Capacity, cfg.History.Granularity())

	hub := notify.NewHub(log)
	bookEvents := notify.NewEmitter(1024)
	tickerEvents := notify.NewEmitter(1024)
	arbEvents := notify.NewEmitter(256)
	hub.Register(bookEvents)
	hub.Register(tickerEvents)
	hub.Register(arbEvents)

	poloReg.OnChange(tickerEvents.Emit)
	bittrexReg.OnChange(tickerEvents.Emit)

	// Arbitrage engine.
	engine := arb.NewEngine(arb.Config{
		MaxPosition:     cfg.Arb.MaxPosition,
		StalenessWindow: cfg.Arb.StalenessWindow(),
	}, configFees{byExchange: map[market.Exchange]float64{
		market.ExchangePoloniex: cfg.Poloniex.TakerFee,
		market.ExchangeBittrex:  cfg.Bittrex.TakerFee,
	}}, configRates(cfg.UsdRates), log)
	engine.OnUpdate(arbEvents.Emit)
	engine.RegisterExchange(poloReg)
	engine.RegisterExchange(bittrexReg)

	// Streaming exchange: shared WebSocket plus REST.
	ws := feed.NewWSClient(feed.DefaultWSConfig(cfg.Poloniex.WSURL), log)
	if err := ws.ConnectWithRetry(ctx); err != nil {
		log.Info("shutdown requested before websocket connected", zap.Error(err))
		return
	}
	defer ws.Close()

	poloTransport := poloniex.New(cfg.Poloniex.HTTPURL, ws, log)
	go poloTransport.Run(ctx)

	// Polling exchange: REST only.
	bittrexTransport := bittrex.New(cfg.Bittrex.HTTPURL, log)

	for _, pair := range pairs {
		poloBook := market.NewOrderBook(market.ExchangePoloniex, pair, bookCfg)
		poloBook.OnChange(bookEvents.Emit)
		engine.RegisterBook(market.ExchangePoloniex, pair, poloBook)
		go feed.NewStreamFeed(poloTransport, poloBook, feedCfg, log).Run(ctx)

		bittrexBook := market.NewOrderBook(market.ExchangeBittrex, pair, bookCfg)
		bittrexBook.OnChange(bookEvents.Emit)
		engine.RegisterBook(market.ExchangeBittrex, pair, bittrexBook)
		go feed.NewPollFeed(bittrexTransport, bittrexBook, feedCfg, log).Run(ctx)

		go feed.NewTradeFeed(poloTransport, poloReg, pair, feedCfg, log).Run(ctx)
		go feed.NewTradeFeed(bittrexTransport, bittrexReg, pair, feedCfg, log).Run(ctx)
	}

	go feed.NewTickerFeed(poloTransport, poloReg, feedCfg, log).Run(ctx)
	go feed.NewTickerFeed(bittrexTransport, bittrexReg, feedCfg, log).Run(ctx)

	// Engine consumes ticker and book changes; the monitor ages out
	// opportunities whose tickers went quiet.
	go engine.Run(ctx, hub.Subscribe(market.EventTickerChanged, market.EventBookChanged))
	go arb.NewMonitor(arb.MonitorConfig{PollInterval: cfg.Arb.MonitorInterval()}, engine).Run(ctx)

	// Redis mirror of best-of-book and opportunity figures.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	go notify.NewRedisWriter(notify.GoRedisClient{C: rdb}, hub.SubscribeAll()).Run(ctx)

	go hub.Run(ctx)

	<-ctx.Done()
	log.Info("tickerarb shutting down")
}
