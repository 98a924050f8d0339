package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"perpbot/internal/metrics"
	"perpbot/internal/model"
	"perpbot/internal/util"
	"perpbot/pkg/binance"
	"perpbot/pkg/logger"

	"github.com/shopspring/decimal"
)

// SymbolCache persists tradable symbol metadata between restarts.
// LoadSymbols also returns when the list was saved.
type SymbolCache interface {
	LoadSymbols(ctx context.Context, marginAsset string) ([]model.SymbolInfo, time.Time, error)
	SaveSymbols(ctx context.Context, marginAsset string, symbols []model.SymbolInfo, savedAt time.Time, ttl time.Duration) error
}

// LiveTradeClientConfig selects the traded contracts and candle shape
type LiveTradeClientConfig struct {
	MarginAsset   string
	KlineInterval string
	KlineLimit    int
	MetadataTTL   time.Duration
}

// LiveTradeClient implements TradeClient against the futures REST API
type LiveTradeClient struct {
	client *binance.Client
	cache  SymbolCache
	cfg    LiveTradeClientConfig
	log    *logger.Logger
	now    func() time.Time

	mu       sync.RWMutex
	symbols  []model.SymbolInfo
	bySymbol map[string]model.SymbolInfo
	loadedAt time.Time
}

// NewLiveTradeClient wraps client. cache may be nil.
func NewLiveTradeClient(client *binance.Client, cache SymbolCache, cfg LiveTradeClientConfig) *LiveTradeClient {
	if cfg.MarginAsset == "" {
		cfg.MarginAsset = "USDC"
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = "5m"
	}
	if cfg.KlineLimit <= 0 {
		cfg.KlineLimit = 15
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = 10 * time.Minute
	}
	client.OnRetry(func(reason string) {
		metrics.ExchangeRetries.WithLabelValues(reason).Inc()
	})
	return &LiveTradeClient{
		client: client,
		cache:  cache,
		cfg:    cfg,
		log:    logger.GetLogger().WithField("component", "trade_client"),
		now:    time.Now,
	}
}

// TradableSymbols returns trading perpetuals margined in the configured asset
func (c *LiveTradeClient) TradableSymbols(ctx context.Context) ([]model.SymbolInfo, error) {
	if err := c.ensureMetadata(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.SymbolInfo, len(c.symbols))
	copy(out, c.symbols)
	return out, nil
}

// SymbolInfo returns metadata of one tradable symbol
func (c *LiveTradeClient) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	if err := c.ensureMetadata(ctx); err != nil {
		return model.SymbolInfo{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return model.SymbolInfo{}, fmt.Errorf("symbol %s is not a tradable %s perpetual", symbol, c.cfg.MarginAsset)
	}
	return info, nil
}

// Candles returns the configured number of recent candles
func (c *LiveTradeClient) Candles(ctx context.Context, symbol string) ([]model.Candle, error) {
	klines, err := c.client.Klines(ctx, symbol, c.cfg.KlineInterval, c.cfg.KlineLimit)
	if err != nil {
		return nil, err
	}
	candles := make([]model.Candle, len(klines))
	for i, k := range klines {
		candles[i] = model.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Close:    k.Close,
			Volume:   k.Volume,
		}
	}
	return candles, nil
}

// Positions returns non-flat positions, all symbols when symbol is empty
func (c *LiveTradeClient) Positions(ctx context.Context, symbol string) ([]model.ExchangePosition, error) {
	rows, err := c.client.PositionRisk(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]model.ExchangePosition, 0, len(rows))
	for _, r := range rows {
		amt := r.Amount()
		if amt == 0 {
			continue
		}
		out = append(out, model.ExchangePosition{
			Symbol:        r.Symbol,
			Amount:        amt,
			EntryPrice:    r.Entry(),
			UnrealizedPnL: r.UnrealizedPnL(),
		})
	}
	return out, nil
}

// Price returns the last traded price
func (c *LiveTradeClient) Price(ctx context.Context, symbol string) (float64, error) {
	return c.client.TickerPrice(ctx, symbol)
}

// AvailableBalance returns the free balance of the margin asset
func (c *LiveTradeClient) AvailableBalance(ctx context.Context) (float64, error) {
	return c.client.AvailableBalance(ctx, c.cfg.MarginAsset)
}

// SetLeverage sets the symbol leverage
func (c *LiveTradeClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return c.client.ChangeLeverage(ctx, symbol, leverage)
}

// MarketOrder places a market order tagged with a fresh client order id
func (c *LiveTradeClient) MarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, reduceOnly bool) (*model.OrderResult, error) {
	prefix := "open"
	if reduceOnly {
		prefix = "close"
	}
	resp, err := c.client.PlaceMarketOrder(ctx, binance.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		ReduceOnly:    reduceOnly,
		ClientOrderID: util.NewClientOrderID(prefix),
	})
	if err != nil {
		return nil, err
	}
	return &model.OrderResult{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Status:        resp.Status,
		ExecutedQty:   binance.ParseFloat(resp.ExecutedQty),
		AvgPrice:      binance.ParseFloat(resp.AvgPrice),
	}, nil
}

// CancelAllOrders cancels resting orders on symbol
func (c *LiveTradeClient) CancelAllOrders(ctx context.Context, symbol string) error {
	return c.client.CancelAllOpenOrders(ctx, symbol)
}

func (c *LiveTradeClient) ensureMetadata(ctx context.Context) error {
	c.mu.RLock()
	fresh := c.bySymbol != nil && c.now().Sub(c.loadedAt) < c.cfg.MetadataTTL
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	if c.cache != nil {
		cached, savedAt, err := c.cache.LoadSymbols(ctx, c.cfg.MarginAsset)
		if err != nil {
			c.log.Warnf("symbol cache read failed: %v", err)
		} else if len(cached) > 0 && c.now().Sub(savedAt) < c.cfg.MetadataTTL {
			c.store(cached, savedAt)
			return nil
		}
	}

	symbols, err := c.fetchSymbols(ctx)
	if err != nil {
		c.mu.RLock()
		stale := c.bySymbol != nil
		c.mu.RUnlock()
		if stale {
			c.log.Warnf("metadata refresh failed, keeping previous list: %v", err)
			return nil
		}
		return err
	}
	loadedAt := c.now()
	c.store(symbols, loadedAt)

	if c.cache != nil {
		if err := c.cache.SaveSymbols(ctx, c.cfg.MarginAsset, symbols, loadedAt, c.cfg.MetadataTTL); err != nil {
			c.log.Warnf("symbol cache write failed: %v", err)
		}
	}
	return nil
}

func (c *LiveTradeClient) fetchSymbols(ctx context.Context) ([]model.SymbolInfo, error) {
	info, err := c.client.ExchangeInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange info: %w", err)
	}

	brackets := map[string]int{}
	if rows, err := c.client.LeverageBrackets(ctx, ""); err != nil {
		c.log.Warnf("leverage brackets unavailable, using filter caps: %v", err)
	} else {
		for _, b := range rows {
			brackets[b.Symbol] = b.MaxLeverage()
		}
	}

	var symbols []model.SymbolInfo
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.ContractType != "PERPETUAL" {
			continue
		}
		if s.MarginAsset != c.cfg.MarginAsset || s.QuoteAsset != c.cfg.MarginAsset {
			continue
		}
		maxLev := brackets[s.Symbol]
		if maxLev <= 0 {
			maxLev = s.MaxLeverage(util.DefaultMaxLeverage)
		}
		symbols = append(symbols, model.SymbolInfo{
			Symbol:      s.Symbol,
			StepSize:    s.StepSize(util.DefaultStepSize),
			MaxLeverage: maxLev,
		})
	}
	c.log.Infof("loaded %d tradable %s perpetuals", len(symbols), c.cfg.MarginAsset)
	return symbols, nil
}

// store installs symbols as fetched at loadedAt, which bounds their freshness
func (c *LiveTradeClient) store(symbols []model.SymbolInfo, loadedAt time.Time) {
	by := make(map[string]model.SymbolInfo, len(symbols))
	for _, s := range symbols {
		by[s.Symbol] = s
	}
	c.mu.Lock()
	c.symbols = symbols
	c.bySymbol = by
	c.loadedAt = loadedAt
	c.mu.Unlock()
}
