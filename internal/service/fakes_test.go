package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"perpbot/internal/model"

	"github.com/shopspring/decimal"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeOrder struct {
	symbol     string
	side       string
	qty        float64
	reduceOnly bool
}

// fakeExchange fills every market order at the current price
type fakeExchange struct {
	mu          sync.Mutex
	symbols     map[string]model.SymbolInfo
	positions   map[string]model.ExchangePosition
	prices      map[string]float64
	balance     float64
	orders      []fakeOrder
	orderErr    error
	noFill      bool
	hideFill    bool
	leverage    map[string]int
	balanceHook func() // runs before AvailableBalance answers, outside the lock
}

func newFakeExchange(symbols ...string) *fakeExchange {
	ex := &fakeExchange{
		symbols:   make(map[string]model.SymbolInfo),
		positions: make(map[string]model.ExchangePosition),
		prices:    make(map[string]float64),
		balance:   1000,
		leverage:  make(map[string]int),
	}
	for _, s := range symbols {
		ex.symbols[s] = model.SymbolInfo{Symbol: s, StepSize: 0.001, MaxLeverage: 125}
		ex.prices[s] = 100
	}
	return ex
}

func (f *fakeExchange) setPrice(symbol string, p float64) {
	f.mu.Lock()
	f.prices[symbol] = p
	f.mu.Unlock()
}

func (f *fakeExchange) setPosition(symbol string, amount, entry, pnl float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if amount == 0 {
		delete(f.positions, symbol)
		return
	}
	f.positions[symbol] = model.ExchangePosition{Symbol: symbol, Amount: amount, EntryPrice: entry, UnrealizedPnL: pnl}
}

func (f *fakeExchange) placed() []fakeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeOrder(nil), f.orders...)
}

func (f *fakeExchange) TradableSymbols(ctx context.Context) ([]model.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.SymbolInfo, 0, len(f.symbols))
	for _, s := range f.symbols {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeExchange) Positions(ctx context.Context, symbol string) ([]model.ExchangePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExchangePosition
	for s, p := range f.positions {
		if symbol == "" || s == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeExchange) Candles(ctx context.Context, symbol string) ([]model.Candle, error) {
	return nil, errors.New("not used")
}

func (f *fakeExchange) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.symbols[symbol]
	if !ok {
		return model.SymbolInfo{}, errors.New("unknown symbol")
	}
	return info, nil
}

func (f *fakeExchange) Price(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func (f *fakeExchange) AvailableBalance(ctx context.Context) (float64, error) {
	f.mu.Lock()
	hook := f.balanceHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverage[symbol] = leverage
	return nil
}

func (f *fakeExchange) MarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, reduceOnly bool) (*model.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, _ := qty.Float64()
	f.orders = append(f.orders, fakeOrder{symbol: symbol, side: side, qty: q, reduceOnly: reduceOnly})
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	price := f.prices[symbol]
	if f.noFill {
		return &model.OrderResult{Status: "EXPIRED"}, nil
	}

	delta := q
	if side == "SELL" {
		delta = -q
	}
	pos := f.positions[symbol]
	pos.Symbol = symbol
	pos.Amount += delta
	if pos.EntryPrice == 0 || reduceOnly {
		pos.EntryPrice = price
	}
	if pos.Amount > -1e-9 && pos.Amount < 1e-9 {
		delete(f.positions, symbol)
	} else {
		f.positions[symbol] = pos
	}
	if f.hideFill {
		return &model.OrderResult{Status: "NEW"}, nil
	}
	return &model.OrderResult{Status: "FILLED", ExecutedQty: q, AvgPrice: price}, nil
}

func (f *fakeExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	return nil
}

type fakeSignalSource struct {
	mu    sync.Mutex
	entry map[string]model.Signal
	exit  map[string]model.Signal
}

func newFakeSignalSource() *fakeSignalSource {
	return &fakeSignalSource{entry: map[string]model.Signal{}, exit: map[string]model.Signal{}}
}

func (f *fakeSignalSource) setEntry(symbol string, s model.Signal) {
	f.mu.Lock()
	f.entry[symbol] = s
	f.mu.Unlock()
}

func (f *fakeSignalSource) setExit(symbol string, s model.Signal) {
	f.mu.Lock()
	f.exit[symbol] = s
	f.mu.Unlock()
}

func (f *fakeSignalSource) EntrySignal(ctx context.Context, symbol string) model.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entry[symbol]
}

func (f *fakeSignalSource) ExitSignal(ctx context.Context, symbol string) model.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exit[symbol]
}

// poolSelector returns the first pool symbol not excluded
type poolSelector struct {
	mu   sync.Mutex
	pool []string
}

func (p *poolSelector) FindBestCoin(ctx context.Context, direction model.Signal, excluded []string, requiredLeverage int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	skip := map[string]bool{}
	for _, s := range excluded {
		skip[s] = true
	}
	for _, s := range p.pool {
		if !skip[s] {
			return s, true
		}
	}
	return "", false
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingNotifier) Post(ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingNotifier) has(kind model.EventType, symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == kind && (symbol == "" || ev.Symbol == symbol) {
			return true
		}
	}
	return false
}

func testTimings() Timings {
	t := DefaultTimings()
	t.ActionCooldown = 3 * time.Second
	t.IdlePoll = time.Millisecond
	t.EmptyBackoff = time.Millisecond
	t.ErrorBackoff = time.Millisecond
	t.ReplacementDelay = time.Millisecond
	t.StopInflightWait = 500 * time.Millisecond
	t.OrderSettleDelay = 0
	return t
}

type recordingTrades struct {
	mu     sync.Mutex
	trades []model.TradeRecord
}

func (r *recordingTrades) Record(ctx context.Context, trade model.TradeRecord) error {
	r.mu.Lock()
	r.trades = append(r.trades, trade)
	r.mu.Unlock()
	return nil
}

func (r *recordingTrades) List(ctx context.Context, botID string, limit int) ([]model.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TradeRecord
	for i := len(r.trades) - 1; i >= 0; i-- {
		if r.trades[i].BotID == botID {
			out = append(out, r.trades[i])
		}
	}
	return out, nil
}
