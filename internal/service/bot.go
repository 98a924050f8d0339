package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"perpbot/internal/metrics"
	"perpbot/internal/model"
	"perpbot/internal/service/market"
	"perpbot/internal/util"
	"perpbot/pkg/logger"
)

// SignalSource evaluates entry and exit signals
type SignalSource interface {
	EntrySignal(ctx context.Context, symbol string) model.Signal
	ExitSignal(ctx context.Context, symbol string) model.Signal
}

// CoinFinder picks a new symbol for a direction
type CoinFinder interface {
	FindBestCoin(ctx context.Context, direction model.Signal, excluded []string, requiredLeverage int) (string, bool)
}

// PriceStreams subscribes symbols to live trade prices
type PriceStreams interface {
	AddSymbol(symbol string, handler market.TickHandler) bool
	RemoveSymbol(symbol string) bool
}

// TradeRecorder stores closed trades
type TradeRecorder interface {
	Record(ctx context.Context, trade model.TradeRecord) error
}

// Timings are the scheduler and lifecycle delays of a bot
type Timings struct {
	ActionCooldown       time.Duration
	IdlePoll             time.Duration
	EmptyBackoff         time.Duration
	ErrorBackoff         time.Duration
	SnapshotInterval     time.Duration
	ReplacementDelay     time.Duration
	StopInflightWait     time.Duration
	OrderSettleDelay     time.Duration
	StreamPriceFreshness time.Duration

	TradeCooldown        time.Duration
	ReentryCooldown      time.Duration
	AveragingCooldown    time.Duration
	CloseRetryCooldown   time.Duration
	PositionSyncInterval time.Duration
}

// DefaultTimings returns production timings
func DefaultTimings() Timings {
	return Timings{
		ActionCooldown:       util.ActionCooldown,
		IdlePoll:             util.IdlePoll,
		EmptyBackoff:         util.EmptyBackoff,
		ErrorBackoff:         util.ErrorBackoff,
		SnapshotInterval:     util.SnapshotInterval,
		ReplacementDelay:     util.ReplacementDelay,
		StopInflightWait:     util.StopInflightWait,
		OrderSettleDelay:     util.OrderSettleDelay,
		StreamPriceFreshness: util.StreamPriceFreshness,
		TradeCooldown:        util.TradeCooldown,
		ReentryCooldown:      util.ReentryCooldown,
		AveragingCooldown:    util.AveragingCooldown,
		CloseRetryCooldown:   util.CloseRetryCooldown,
		PositionSyncInterval: util.PositionSyncInterval,
	}
}

// BotDeps are the collaborators shared by every bot
type BotDeps struct {
	Client   TradeClient
	Registry *CoinRegistry
	Streams  PriceStreams
	Selector CoinFinder
	Signals  SignalSource
	Notifier Notifier
	Trades   TradeRecorder
	Timings  Timings
	Now      func() time.Time
}

// symbolSlot pairs a ledger entry with its in-flight token.
// Whoever holds the token may mutate state.
type symbolSlot struct {
	state   *model.SymbolState
	token   chan struct{}
	summary atomic.Pointer[model.PositionSummary]
	pending atomic.Pointer[releaseRequest]
}

// releaseRequest asks the token holder to close and release the symbol
type releaseRequest struct {
	reason  string
	replace bool
}

func newSymbolSlot(symbol string) *symbolSlot {
	s := &symbolSlot{state: model.NewSymbolState(symbol), token: make(chan struct{}, 1)}
	s.publish()
	return s
}

func (s *symbolSlot) tryAcquire() bool {
	select {
	case s.token <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *symbolSlot) acquire(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.token <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// requestRelease records a release for whoever holds the token last.
// An earlier request wins.
func (s *symbolSlot) requestRelease(reason string, replace bool) {
	s.pending.CompareAndSwap(nil, &releaseRequest{reason: reason, replace: replace})
}

func (s *symbolSlot) releaseRequested() bool {
	return s.pending.Load() != nil
}

func (s *symbolSlot) release() {
	select {
	case <-s.token:
	default:
	}
}

// publish stores a read-only copy for status readers
func (s *symbolSlot) publish() {
	sum := s.state.Summary()
	s.summary.Store(&sum)
}

type priceTick struct {
	price float64
	at    time.Time
}

// Bot owns a set of claimed symbols and a single control loop
type Bot struct {
	id        string
	cfg       model.BotConfig
	deps      BotDeps
	t         Timings
	now       func() time.Time
	coinFlip  func() bool
	log       *logger.Logger
	ctx       context.Context
	startedAt time.Time

	symbolMu sync.Mutex
	symbols  []string
	slots    map[string]*symbolSlot

	acquireMu sync.Mutex

	snapMu     sync.Mutex
	snapshot   model.AccountSnapshot
	snapshotOK bool

	prices sync.Map

	stopped   atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	started   atomic.Bool
	bg        sync.WaitGroup

	// loop goroutine only
	lastAction   time.Time
	lastSnapshot time.Time
}

// NewBot creates a bot. Call Start to run it.
func NewBot(id string, cfg model.BotConfig, deps BotDeps) *Bot {
	cfg.Normalize()
	if cfg.Mode() == model.BotModeFixed {
		cfg.MaxCoins = 1
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	b := &Bot{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		t:        deps.Timings,
		now:      now,
		coinFlip: func() bool { return rand.IntN(2) == 0 },
		log:      logger.GetLogger().WithBot(id),
		ctx:      context.Background(),
		slots:    make(map[string]*symbolSlot),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	b.startedAt = b.now()
	return b
}

// ID returns the bot id
func (b *Bot) ID() string { return b.id }

// Config returns the normalized config
func (b *Bot) Config() model.BotConfig { return b.cfg }

// Start launches the control loop
func (b *Bot) Start() {
	b.startOnce.Do(func() {
		b.started.Store(true)
		metrics.RunningBots.Inc()
		b.notify(model.EventBotStarted, "", fmt.Sprintf("mode=%s leverage=%dx percent=%.2f tp=%.2f sl=%.2f max_coins=%d",
			b.cfg.Mode(), b.cfg.Leverage, b.cfg.Percent, b.cfg.TakeProfit, b.cfg.StopLoss, b.cfg.MaxCoins), nil)
		go b.run()
	})
}

func (b *Bot) run() {
	defer close(b.loopDone)
	b.log.Infof("Bot %s: control loop started (%s mode)", b.id, b.cfg.Mode())
	defer b.log.Infof("Bot %s: control loop exited", b.id)

	if b.cfg.Mode() == model.BotModeFixed {
		b.addSymbol(b.cfg.Symbol)
	}

	for !b.stopped.Load() {
		if !b.sleep(b.safeStep()) {
			return
		}
	}
}

func (b *Bot) safeStep() (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("Bot %s: loop iteration panicked: %v", b.id, r)
			wait = b.t.ErrorBackoff
		}
	}()
	return b.step()
}

// step runs one scheduler iteration and returns how long to wait before the next
func (b *Bot) step() time.Duration {
	now := b.now()
	if b.lastSnapshot.IsZero() || now.Sub(b.lastSnapshot) >= b.t.SnapshotInterval {
		b.refreshSnapshot()
		b.lastSnapshot = now
	}

	if !b.lastAction.IsZero() && now.Sub(b.lastAction) < b.t.ActionCooldown {
		return b.t.IdlePoll
	}

	if b.SymbolCount() < b.cfg.MaxCoins && b.acquireSymbol() {
		b.lastAction = b.now()
		return b.t.ActionCooldown
	}

	symbols := b.Symbols()
	if len(symbols) == 0 {
		return b.t.EmptyBackoff
	}

	head := symbols[0]
	b.processSymbol(head, true)
	for _, sym := range symbols[1:] {
		if b.stopped.Load() {
			break
		}
		b.processSymbol(sym, false)
	}
	b.rotate(head)

	b.lastAction = b.now()
	return b.t.ActionCooldown
}

// processSymbol runs the lifecycle for one symbol while holding its token.
// A symbol being stopped is skipped.
func (b *Bot) processSymbol(symbol string, full bool) {
	slot := b.slot(symbol)
	if slot == nil || !slot.tryAcquire() {
		return
	}
	defer b.finishStep(slot)
	if slot.releaseRequested() {
		return
	}

	st := slot.state
	if full {
		b.processFull(slot)
		return
	}
	if st.PositionOpen && !b.checkTPSL(st) {
		b.checkAveragingDown(st)
	}
}

// processFull runs the full pass. Releases are requested on the slot and
// carried out when the token is returned.
func (b *Bot) processFull(slot *symbolSlot) {
	st := slot.state
	now := b.now()

	if now.Sub(st.LastPositionCheck) >= b.t.PositionSyncInterval {
		st.LastPositionCheck = now
		if external := b.syncExternalPosition(st); external {
			slot.requestRelease("external position", true)
			return
		}
	}

	if st.PositionOpen {
		if b.checkSmartExit(st) {
			return
		}
		if b.checkTPSL(st) {
			return
		}
		b.checkAveragingDown(st)
		return
	}

	if release := b.tryEntry(st); release {
		slot.requestRelease("entry rejected", true)
	}
}

// finishStep returns the token of slot. A pending release is carried out
// first; a request that lands while the token is being returned is picked
// up again if the token is still free.
func (b *Bot) finishStep(slot *symbolSlot) {
	for {
		if req := slot.pending.Swap(nil); req != nil {
			b.releaseSymbol(slot, req.reason, req.replace && !b.stopped.Load())
		}
		slot.publish()
		slot.release()
		if !slot.releaseRequested() || !slot.tryAcquire() {
			return
		}
	}
}

// halting reports whether symbol is about to be released. No new exposure
// is added to a halting symbol.
func (b *Bot) halting(symbol string) bool {
	if b.stopped.Load() {
		return true
	}
	slot := b.slot(symbol)
	return slot != nil && slot.releaseRequested()
}

// acquireSymbol fills one free slot. Acquisitions are serialized per bot.
func (b *Bot) acquireSymbol() bool {
	b.acquireMu.Lock()
	defer b.acquireMu.Unlock()

	if b.stopped.Load() || b.SymbolCount() >= b.cfg.MaxCoins {
		return false
	}

	if b.cfg.Mode() == model.BotModeFixed {
		return b.addSymbol(b.cfg.Symbol)
	}

	direction := b.nextDirection()
	symbol, ok := b.deps.Selector.FindBestCoin(b.ctx, direction, b.deps.Registry.Snapshot(), b.cfg.Leverage)
	if !ok {
		return false
	}
	return b.addSymbol(symbol)
}

// addSymbol claims symbol for this bot. A symbol holding an exchange
// position, already claimed, or beyond maxCoins is rejected.
func (b *Bot) addSymbol(symbol string) bool {
	if b.stopped.Load() {
		return false
	}
	external, err := b.hasExchangePosition(symbol)
	if err != nil {
		b.log.Warnf("Bot %s: cannot verify %s position: %v", b.id, symbol, err)
		return false
	}
	if external {
		b.log.Infof("Bot %s: %s already has an exchange position, not adding", b.id, symbol)
		return false
	}

	b.symbolMu.Lock()
	if b.stopped.Load() {
		b.symbolMu.Unlock()
		return false
	}
	if _, dup := b.slots[symbol]; dup || len(b.symbols) >= b.cfg.MaxCoins {
		b.symbolMu.Unlock()
		return false
	}
	if !b.deps.Registry.Register(symbol) {
		b.symbolMu.Unlock()
		b.log.Debugf("Bot %s: %s is claimed by another bot", b.id, symbol)
		return false
	}
	b.slots[symbol] = newSymbolSlot(symbol)
	b.symbols = append(b.symbols, symbol)
	count := len(b.symbols)
	if b.deps.Streams != nil {
		b.deps.Streams.AddSymbol(symbol, b.onTick)
	}
	b.symbolMu.Unlock()

	metrics.ActiveSymbols.WithLabelValues(b.id).Set(float64(count))
	b.log.Infof("Bot %s: added %s (%d/%d)", b.id, symbol, count, b.cfg.MaxCoins)
	b.notify(model.EventSymbolAdded, symbol, fmt.Sprintf("claimed %d/%d", count, b.cfg.MaxCoins), nil)
	return true
}

// StopSymbol closes any open position on symbol and releases it. It waits
// up to StopInflightWait for an in-flight lifecycle step; past that the
// step's goroutine performs the release when it returns the token.
func (b *Bot) StopSymbol(symbol string) bool {
	slot := b.slot(symbol)
	if slot == nil {
		return false
	}
	slot.requestRelease("stopped", true)
	if slot.acquire(b.t.StopInflightWait) {
		b.finishStep(slot)
	} else {
		b.log.Warnf("Bot %s: %s still busy after %s, release deferred to the running step", b.id, symbol, b.t.StopInflightWait)
	}
	return true
}

// releaseSymbol closes the position of slot (best effort), removes it from
// the bot, the registry and the price stream, then optionally schedules a
// replacement. The caller holds the slot token.
func (b *Bot) releaseSymbol(slot *symbolSlot, reason string, replace bool) bool {
	st := slot.state
	symbol := st.Symbol
	log := b.log.WithSymbol(symbol)

	if st.PositionOpen {
		st.CloseAttempted = false
		if !b.closePosition(st, reason) {
			log.Errorf("Bot %s: failed to close %s before release, position left on exchange", b.id, symbol)
			b.notify(model.EventError, symbol, "close before release failed; position left open on exchange", nil)
		}
	}

	b.symbolMu.Lock()
	current, ok := b.slots[symbol]
	if !ok || current != slot {
		b.symbolMu.Unlock()
		return false
	}
	delete(b.slots, symbol)
	for i, s := range b.symbols {
		if s == symbol {
			b.symbols = append(b.symbols[:i], b.symbols[i+1:]...)
			break
		}
	}
	count := len(b.symbols)
	b.deps.Registry.Unregister(symbol)
	if b.deps.Streams != nil {
		b.deps.Streams.RemoveSymbol(symbol)
	}
	b.prices.Delete(symbol)
	b.symbolMu.Unlock()

	metrics.ActiveSymbols.WithLabelValues(b.id).Set(float64(count))
	log.Infof("Bot %s: released %s (%s)", b.id, symbol, reason)
	b.notify(model.EventSymbolReleased, symbol, reason, nil)

	if replace {
		b.scheduleReplacement()
	}
	return true
}

// scheduleReplacement tries to refill a free slot after ReplacementDelay
func (b *Bot) scheduleReplacement() {
	if b.stopped.Load() {
		return
	}
	b.bg.Add(1)
	go func() {
		defer b.bg.Done()
		if !b.sleep(b.t.ReplacementDelay) || b.stopped.Load() {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				b.log.Errorf("Bot %s: replacement panicked: %v", b.id, r)
			}
		}()
		b.acquireSymbol()
	}()
}

// Stop halts the loop, then closes and releases every symbol without replacement
func (b *Bot) Stop(ctx context.Context) {
	first := false
	b.stopOnce.Do(func() {
		first = true
		b.stopped.Store(true)
		close(b.stopCh)
	})

	for _, sym := range b.Symbols() {
		if slot := b.slot(sym); slot != nil {
			slot.requestRelease("bot stopped", false)
		}
	}

	b.startOnce.Do(func() { close(b.loopDone) })
	select {
	case <-b.loopDone:
	case <-ctx.Done():
		b.log.Warnf("Bot %s: loop did not exit before deadline", b.id)
	}
	b.bg.Wait()

	for _, sym := range b.Symbols() {
		slot := b.slot(sym)
		if slot == nil {
			continue
		}
		slot.requestRelease("bot stopped", false)
		if slot.acquire(b.t.StopInflightWait) {
			b.finishStep(slot)
		} else {
			b.log.Warnf("Bot %s: %s still busy, release deferred to the running step", b.id, sym)
		}
	}

	if !first {
		return
	}
	if b.started.Load() {
		metrics.RunningBots.Dec()
	}
	metrics.ActiveSymbols.DeleteLabelValues(b.id)
	b.notify(model.EventBotStopped, "", "", nil)
	b.log.Infof("Bot %s: stopped", b.id)
}

// Running reports whether the loop is still live
func (b *Bot) Running() bool {
	return !b.stopped.Load()
}

// Status returns the run-state view
func (b *Bot) Status() model.BotStatus {
	b.symbolMu.Lock()
	symbols := append([]string(nil), b.symbols...)
	positions := make([]model.PositionSummary, 0, len(symbols))
	for _, sym := range symbols {
		if sum := b.slots[sym].summary.Load(); sum != nil {
			positions = append(positions, *sum)
		}
	}
	b.symbolMu.Unlock()

	status := model.BotStatusRunning
	if b.stopped.Load() {
		status = model.BotStatusStopped
	}
	symbol := b.cfg.Symbol
	if symbol == "" && len(symbols) > 0 {
		symbol = symbols[0]
	}
	return model.BotStatus{
		BotID:     b.id,
		Running:   !b.stopped.Load(),
		Status:    status,
		Mode:      b.cfg.Mode(),
		Strategy:  b.cfg.Strategy,
		Symbol:    symbol,
		Symbols:   symbols,
		Positions: positions,
		Config:    b.cfg,
		StartedAt: b.startedAt,
	}
}

// Symbols returns the claimed symbols in processing order
func (b *Bot) Symbols() []string {
	b.symbolMu.Lock()
	defer b.symbolMu.Unlock()
	return append([]string(nil), b.symbols...)
}

// SymbolCount returns the number of claimed symbols
func (b *Bot) SymbolCount() int {
	b.symbolMu.Lock()
	defer b.symbolMu.Unlock()
	return len(b.symbols)
}

func (b *Bot) slot(symbol string) *symbolSlot {
	b.symbolMu.Lock()
	defer b.symbolMu.Unlock()
	return b.slots[symbol]
}

// rotate moves symbol to the tail if it is still claimed
func (b *Bot) rotate(symbol string) {
	b.symbolMu.Lock()
	defer b.symbolMu.Unlock()
	for i, s := range b.symbols {
		if s == symbol {
			b.symbols = append(append(b.symbols[:i:i], b.symbols[i+1:]...), symbol)
			return
		}
	}
}

// refreshSnapshot reloads the account-wide long/short aggregate
func (b *Bot) refreshSnapshot() {
	positions, err := b.deps.Client.Positions(b.ctx, "")
	if err != nil {
		b.log.Warnf("Bot %s: account snapshot refresh failed: %v", b.id, err)
		return
	}
	snap := model.NewAccountSnapshot(positions, b.now())
	b.snapMu.Lock()
	b.snapshot = snap
	b.snapshotOK = true
	b.snapMu.Unlock()
}

// nextDirection favours the side with the lower aggregate unrealized PnL
func (b *Bot) nextDirection() model.Signal {
	b.snapMu.Lock()
	snap, ok := b.snapshot, b.snapshotOK
	b.snapMu.Unlock()
	if !ok {
		b.refreshSnapshot()
		b.snapMu.Lock()
		snap = b.snapshot
		b.snapMu.Unlock()
	}

	switch {
	case snap.LongPnL < snap.ShortPnL:
		return model.SignalBuy
	case snap.ShortPnL < snap.LongPnL:
		return model.SignalSell
	}
	if b.coinFlip() {
		return model.SignalBuy
	}
	return model.SignalSell
}

func (b *Bot) onTick(symbol string, price float64) {
	b.prices.Store(symbol, priceTick{price: price, at: b.now()})
}

// markPrice prefers a fresh stream tick over the REST ticker
func (b *Bot) markPrice(symbol string) (float64, error) {
	if v, ok := b.prices.Load(symbol); ok {
		tick := v.(priceTick)
		if b.now().Sub(tick.at) <= b.t.StreamPriceFreshness && tick.price > 0 {
			return tick.price, nil
		}
	}
	return b.deps.Client.Price(b.ctx, symbol)
}

// sleep waits d or until the bot stops; false means stopped
func (b *Bot) sleep(d time.Duration) bool {
	if d <= 0 {
		return !b.stopped.Load()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-b.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func (b *Bot) notify(kind model.EventType, symbol, message string, fields map[string]interface{}) {
	if b.deps.Notifier == nil {
		return
	}
	b.deps.Notifier.Post(model.Event{
		Type:    kind,
		BotID:   b.id,
		Symbol:  symbol,
		Message: message,
		Fields:  fields,
		Time:    b.now(),
	})
}
