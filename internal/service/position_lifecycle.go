package service

import (
	"context"
	"math"
	"time"

	"perpbot/internal/metrics"
	"perpbot/internal/model"
	"perpbot/internal/util"
	"perpbot/pkg/binance"
)

// Close reasons
const (
	CloseReasonTakeProfit = "take_profit"
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonSmartExit  = "smart_exit"
	CloseReasonExternal   = "external"
)

// exchangePosition returns the live position of symbol, nil when flat
func (b *Bot) exchangePosition(symbol string) (*model.ExchangePosition, error) {
	positions, err := b.deps.Client.Positions(b.ctx, symbol)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Amount != 0 {
			pos := p
			return &pos, nil
		}
	}
	return nil, nil
}

func (b *Bot) hasExchangePosition(symbol string) (bool, error) {
	pos, err := b.exchangePosition(symbol)
	return pos != nil, err
}

// syncExternalPosition reconciles st with the exchange. It returns true when
// a WAITING symbol holds a position the bot did not open.
func (b *Bot) syncExternalPosition(st *model.SymbolState) bool {
	pos, err := b.exchangePosition(st.Symbol)
	if err != nil {
		b.log.Warnf("Bot %s: position sync for %s failed: %v", b.id, st.Symbol, err)
		return false
	}
	now := b.now()

	if !st.PositionOpen {
		if pos == nil {
			return false
		}
		// an entry whose confirmation was lost
		if !st.LastTradeTime.IsZero() && now.Sub(st.LastTradeTime) < b.t.TradeCooldown {
			st.Open(model.SideFromAmount(pos.Amount), math.Abs(pos.Amount), pos.EntryPrice)
			b.log.Infof("Bot %s: adopted %s position %.6f @ %.6f", b.id, st.Symbol, pos.Amount, pos.EntryPrice)
			return false
		}
		b.log.Warnf("Bot %s: %s has a position opened outside this bot", b.id, st.Symbol)
		return true
	}

	if pos == nil {
		b.log.Warnf("Bot %s: %s position closed outside this bot", b.id, st.Symbol)
		st.Reset()
		st.LastCloseTime = now
		metrics.Closes.WithLabelValues(CloseReasonExternal).Inc()
		b.notify(model.EventPositionClosed, st.Symbol, "closed outside the engine", map[string]interface{}{
			"reason": CloseReasonExternal,
		})
		return false
	}

	st.Side = model.SideFromAmount(pos.Amount)
	st.Quantity = pos.Amount
	if pos.EntryPrice > 0 {
		st.EntryPrice = pos.EntryPrice
	}
	return false
}

// tryEntry opens a position when cool-downs allow and the entry signal
// matches the preferred direction. It returns true when the symbol should
// be released.
func (b *Bot) tryEntry(st *model.SymbolState) bool {
	now := b.now()
	if !st.LastTradeTime.IsZero() && now.Sub(st.LastTradeTime) < b.t.TradeCooldown {
		return false
	}
	if !st.LastCloseTime.IsZero() && now.Sub(st.LastCloseTime) < b.t.ReentryCooldown {
		return false
	}

	direction := b.nextDirection()
	sig := b.deps.Signals.EntrySignal(b.ctx, st.Symbol)
	metrics.Signals.WithLabelValues(metrics.SignalLabel(string(sig))).Inc()
	if sig == model.SignalNone || sig != direction {
		return false
	}

	st.LastTradeTime = now
	return b.openPosition(st, model.SideFromSignal(sig))
}

// openPosition places the entry order and confirms it against the exchange.
// It returns true when the symbol should be released.
func (b *Bot) openPosition(st *model.SymbolState, side model.Side) bool {
	symbol := st.Symbol

	external, err := b.hasExchangePosition(symbol)
	if err != nil {
		b.log.Warnf("Bot %s: cannot verify %s before entry: %v", b.id, symbol, err)
		return false
	}
	if external {
		b.log.Warnf("Bot %s: %s gained an exchange position, releasing", b.id, symbol)
		return true
	}

	info, err := b.deps.Client.SymbolInfo(b.ctx, symbol)
	if err != nil {
		b.log.Warnf("Bot %s: no metadata for %s: %v", b.id, symbol, err)
		return false
	}
	if info.MaxLeverage < b.cfg.Leverage {
		b.log.Warnf("Bot %s: %s max leverage %dx below %dx", b.id, symbol, info.MaxLeverage, b.cfg.Leverage)
		return true
	}
	if err := b.deps.Client.SetLeverage(b.ctx, symbol, b.cfg.Leverage); err != nil {
		b.log.Errorf("Bot %s: set leverage on %s failed: %v", b.id, symbol, err)
		return binance.IsRejected(err)
	}

	balance, err := b.deps.Client.AvailableBalance(b.ctx)
	if err != nil {
		b.log.Warnf("Bot %s: balance unavailable: %v", b.id, err)
		return false
	}
	price, err := b.markPrice(symbol)
	if err != nil {
		b.log.Warnf("Bot %s: no price for %s: %v", b.id, symbol, err)
		return false
	}

	qty := util.PositionQuantity(balance, b.cfg.Percent, b.cfg.Leverage, price, info.StepSize)
	if !qty.IsPositive() {
		b.log.Warnf("Bot %s: %s order size rounds to zero (balance=%.4f price=%.6f step=%g)", b.id, symbol, balance, price, info.StepSize)
		return true
	}

	if b.halting(symbol) {
		b.log.Infof("Bot %s: %s is being released, entry skipped", b.id, symbol)
		return false
	}

	res, err := b.deps.Client.MarketOrder(b.ctx, symbol, side.OrderSide(), qty, false)
	if err != nil {
		if binance.IsRejected(err) || binance.IsAuthError(err) {
			b.log.Errorf("Bot %s: %s entry rejected: %v", b.id, symbol, err)
			b.notify(model.EventError, symbol, "entry order rejected: "+err.Error(), nil)
			return true
		}
		b.log.Warnf("Bot %s: %s entry outcome unknown, verifying: %v", b.id, symbol, err)
	} else {
		metrics.Orders.WithLabelValues("open", side.OrderSide()).Inc()
	}

	b.sleep(b.t.OrderSettleDelay)

	pos, err := b.exchangePosition(symbol)
	if err != nil {
		b.log.Warnf("Bot %s: cannot confirm %s entry: %v", b.id, symbol, err)
		if res != nil && res.ExecutedQty > 0 {
			st.Open(side, res.ExecutedQty, fillPrice(res, price))
			b.announceOpen(st)
		} else {
			st.LastPositionCheck = time.Time{}
		}
		return false
	}
	if pos == nil {
		b.log.Warnf("Bot %s: %s entry did not fill", b.id, symbol)
		return true
	}

	entry := pos.EntryPrice
	if entry <= 0 {
		entry = fillPrice(res, price)
	}
	st.Open(model.SideFromAmount(pos.Amount), math.Abs(pos.Amount), entry)
	b.announceOpen(st)
	return false
}

func (b *Bot) announceOpen(st *model.SymbolState) {
	b.log.Infof("Bot %s: opened %s %s qty=%.6f entry=%.6f", b.id, st.Side, st.Symbol, math.Abs(st.Quantity), st.EntryPrice)
	b.notify(model.EventPositionOpened, st.Symbol, string(st.Side), map[string]interface{}{
		"side":     string(st.Side),
		"quantity": math.Abs(st.Quantity),
		"entry":    st.EntryPrice,
		"leverage": b.cfg.Leverage,
	})
}

// checkTPSL closes on take-profit or stop-loss ROI. It also advances the
// ROI high-water mark.
func (b *Bot) checkTPSL(st *model.SymbolState) bool {
	if !st.PositionOpen {
		return false
	}
	price, err := b.markPrice(st.Symbol)
	if err != nil {
		return false
	}
	roi := st.ROI(price, b.cfg.Leverage)
	st.ObserveROI(roi, b.cfg.ROITrigger)

	switch {
	case roi >= b.cfg.TakeProfit:
		return b.closePosition(st, CloseReasonTakeProfit)
	case b.cfg.StopLoss > 0 && roi <= -b.cfg.StopLoss:
		return b.closePosition(st, CloseReasonStopLoss)
	}
	return false
}

// checkSmartExit closes on an exit signal once the ROI trigger has latched
// and ROI is still at or above it
func (b *Bot) checkSmartExit(st *model.SymbolState) bool {
	if b.cfg.ROITrigger == nil || !st.PositionOpen {
		return false
	}
	price, err := b.markPrice(st.Symbol)
	if err != nil {
		return false
	}
	roi := st.ROI(price, b.cfg.Leverage)
	st.ObserveROI(roi, b.cfg.ROITrigger)
	if !st.ROITriggerActivated || roi < *b.cfg.ROITrigger {
		return false
	}

	sig := b.deps.Signals.ExitSignal(b.ctx, st.Symbol)
	if sig == model.SignalNone {
		return false
	}
	b.log.Infof("Bot %s: %s exit signal %s at ROI %.2f%% (hwm %.2f%%)", b.id, st.Symbol, sig, roi, st.ROIHighWaterMark)
	return b.closePosition(st, CloseReasonSmartExit)
}

// checkAveragingDown adds to a losing position when the loss from the first
// fill reaches the next schedule step
func (b *Bot) checkAveragingDown(st *model.SymbolState) bool {
	if !st.PositionOpen {
		return false
	}
	threshold, ok := util.AveragingThreshold(st.AveragingCount)
	if !ok {
		return false
	}
	now := b.now()
	if !st.LastAveragingTime.IsZero() && now.Sub(st.LastAveragingTime) < b.t.AveragingCooldown {
		return false
	}

	price, err := b.markPrice(st.Symbol)
	if err != nil {
		return false
	}
	baseROI := st.BaseROI(price, b.cfg.Leverage)
	if baseROI >= 0 || -baseROI < threshold {
		return false
	}

	info, err := b.deps.Client.SymbolInfo(b.ctx, st.Symbol)
	if err != nil {
		return false
	}
	balance, err := b.deps.Client.AvailableBalance(b.ctx)
	if err != nil {
		return false
	}
	percent := b.cfg.Percent * float64(st.AveragingCount+1)
	qty := util.PositionQuantity(balance, percent, b.cfg.Leverage, price, info.StepSize)
	if !qty.IsPositive() {
		b.log.Warnf("Bot %s: %s averaging size rounds to zero", b.id, st.Symbol)
		return false
	}

	if b.halting(st.Symbol) {
		b.log.Infof("Bot %s: %s is being released, averaging skipped", b.id, st.Symbol)
		return false
	}

	st.LastAveragingTime = now
	res, err := b.deps.Client.MarketOrder(b.ctx, st.Symbol, st.Side.OrderSide(), qty, false)
	if err != nil {
		b.log.Errorf("Bot %s: %s averaging order failed: %v", b.id, st.Symbol, err)
		return false
	}
	metrics.Orders.WithLabelValues("average", st.Side.OrderSide()).Inc()

	filled := res.ExecutedQty
	if filled <= 0 {
		filled = b.confirmAddedQuantity(st)
	}
	if filled <= 0 {
		b.log.Warnf("Bot %s: %s averaging order did not fill (%s)", b.id, st.Symbol, res.Status)
		return false
	}
	st.AddFill(filled, fillPrice(res, price))

	b.log.Infof("Bot %s: averaged %s #%d at base ROI %.2f%%, entry now %.6f", b.id, st.Symbol, st.AveragingCount, baseROI, st.EntryPrice)
	b.notify(model.EventPositionAverage, st.Symbol, "", map[string]interface{}{
		"averaging_count": st.AveragingCount,
		"base_roi":        baseROI,
		"quantity":        math.Abs(st.Quantity),
		"entry":           st.EntryPrice,
	})
	return true
}

// confirmAddedQuantity reads how much the exchange position grew beyond st.
// When the exchange cannot be read the next pass re-syncs the quantity.
func (b *Bot) confirmAddedQuantity(st *model.SymbolState) float64 {
	b.sleep(b.t.OrderSettleDelay)
	pos, err := b.exchangePosition(st.Symbol)
	if err != nil {
		b.log.Warnf("Bot %s: cannot confirm %s averaging fill: %v", b.id, st.Symbol, err)
		st.LastPositionCheck = time.Time{}
		return 0
	}
	if pos == nil || model.SideFromAmount(pos.Amount) != st.Side {
		return 0
	}
	added := math.Abs(pos.Amount) - math.Abs(st.Quantity)
	if added < 1e-9 {
		return 0
	}
	return added
}

// closePosition cancels resting orders and flattens the position with a
// reduce-only market order. Failed attempts are retried no sooner than
// CloseRetryCooldown.
func (b *Bot) closePosition(st *model.SymbolState, reason string) bool {
	if !st.PositionOpen {
		return false
	}
	now := b.now()
	if st.CloseAttempted && now.Sub(st.LastCloseAttempt) < b.t.CloseRetryCooldown {
		return false
	}
	st.CloseAttempted = true
	st.LastCloseAttempt = now

	symbol := st.Symbol
	if err := b.deps.Client.CancelAllOrders(b.ctx, symbol); err != nil {
		b.log.Warnf("Bot %s: cancel orders on %s failed: %v", b.id, symbol, err)
	}

	step := util.DefaultStepSize
	if info, err := b.deps.Client.SymbolInfo(b.ctx, symbol); err == nil {
		step = info.StepSize
	}
	qty := util.RoundToStep(math.Abs(st.Quantity), step)

	price, _ := b.markPrice(symbol)
	res, err := b.deps.Client.MarketOrder(b.ctx, symbol, st.Side.CloseSide(), qty, true)
	if err != nil {
		b.log.Errorf("Bot %s: close %s (%s) failed: %v", b.id, symbol, reason, err)
		b.notify(model.EventError, symbol, "close failed: "+err.Error(), map[string]interface{}{"reason": reason})
		return false
	}
	metrics.Orders.WithLabelValues("close", st.Side.CloseSide()).Inc()

	exit := fillPrice(res, price)
	fields := map[string]interface{}{
		"reason":          reason,
		"averaging_count": st.AveragingCount,
	}
	if exit > 0 {
		fields["pnl"] = st.UnrealizedPnL(exit)
		fields["roi"] = st.ROI(exit, b.cfg.Leverage)
		fields["exit"] = exit
	}

	b.log.Infof("Bot %s: closed %s %s (%s) exit=%.6f", b.id, st.Side, symbol, reason, exit)
	b.recordTrade(st, reason, exit, now)
	st.Reset()
	st.LastCloseTime = now
	metrics.Closes.WithLabelValues(reason).Inc()
	b.notify(model.EventPositionClosed, symbol, reason, fields)
	return true
}

// recordTrade stores the closing position in the trade history, best effort
func (b *Bot) recordTrade(st *model.SymbolState, reason string, exit float64, closedAt time.Time) {
	if b.deps.Trades == nil {
		return
	}
	rec := model.TradeRecord{
		BotID:          b.id,
		Symbol:         st.Symbol,
		Side:           st.Side,
		Quantity:       math.Abs(st.Quantity),
		EntryPrice:     st.EntryPrice,
		ExitPrice:      exit,
		AveragingCount: st.AveragingCount,
		Reason:         reason,
		OpenedAt:       st.LastTradeTime,
		ClosedAt:       closedAt,
	}
	if exit > 0 {
		rec.PnL = st.UnrealizedPnL(exit)
		rec.ROI = st.ROI(exit, b.cfg.Leverage)
	}

	ctx, cancel := context.WithTimeout(b.ctx, 3*time.Second)
	defer cancel()
	if err := b.deps.Trades.Record(ctx, rec); err != nil {
		b.log.Warnf("Bot %s: failed to record %s trade: %v", b.id, st.Symbol, err)
	}
}

func fillPrice(res *model.OrderResult, fallback float64) float64 {
	if res != nil && res.AvgPrice > 0 {
		return res.AvgPrice
	}
	return fallback
}
