package model

import (
	"math"
	"time"
)

// Side is the direction of a position
type Side string

const (
	SideNone  Side = "NONE"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OrderSide returns the order side that opens or adds to a position of this side
func (s Side) OrderSide() string {
	if s == SideShort {
		return "SELL"
	}
	return "BUY"
}

// CloseSide returns the order side that reduces a position of this side
func (s Side) CloseSide() string {
	if s == SideShort {
		return "BUY"
	}
	return "SELL"
}

// SideFromSignal maps BUY to LONG and SELL to SHORT
func SideFromSignal(sig Signal) Side {
	switch sig {
	case SignalBuy:
		return SideLong
	case SignalSell:
		return SideShort
	}
	return SideNone
}

// SideFromAmount maps a signed position amount to a side
func SideFromAmount(amount float64) Side {
	switch {
	case amount > 0:
		return SideLong
	case amount < 0:
		return SideShort
	}
	return SideNone
}

// SymbolState is the per-symbol ledger owned by one bot.
// When PositionOpen is false every position field is zero.
type SymbolState struct {
	Symbol string

	PositionOpen        bool
	Side                Side
	Quantity            float64 // signed, negative for short
	EntryPrice          float64
	EntryBasePrice      float64
	AveragingCount      int
	ROIHighWaterMark    float64
	ROITriggerActivated bool

	LastTradeTime     time.Time
	LastCloseTime     time.Time
	LastAveragingTime time.Time
	LastPositionCheck time.Time

	CloseAttempted   bool
	LastCloseAttempt time.Time
}

// NewSymbolState returns a state in WAITING
func NewSymbolState(symbol string) *SymbolState {
	return &SymbolState{Symbol: symbol, Side: SideNone}
}

// Reset returns the position fields to WAITING. Cool-down timestamps survive.
func (s *SymbolState) Reset() {
	s.PositionOpen = false
	s.Side = SideNone
	s.Quantity = 0
	s.EntryPrice = 0
	s.EntryBasePrice = 0
	s.AveragingCount = 0
	s.ROIHighWaterMark = 0
	s.ROITriggerActivated = false
	s.CloseAttempted = false
}

// Valid reports whether the reset invariant holds
func (s *SymbolState) Valid() bool {
	if s.PositionOpen {
		return s.Side != SideNone && SideFromAmount(s.Quantity) == s.Side
	}
	return s.Quantity == 0 &&
		s.EntryPrice == 0 &&
		s.AveragingCount == 0 &&
		s.ROIHighWaterMark == 0 &&
		!s.ROITriggerActivated &&
		s.Side == SideNone
}

// Open records a first fill
func (s *SymbolState) Open(side Side, qty, price float64) {
	s.Reset()
	s.PositionOpen = true
	s.Side = side
	s.Quantity = signed(side, qty)
	s.EntryPrice = price
	s.EntryBasePrice = price
}

// AddFill folds an averaging fill into a volume-weighted entry
func (s *SymbolState) AddFill(qty, price float64) {
	prevQty := math.Abs(s.Quantity)
	total := prevQty + qty
	if total <= 0 {
		return
	}
	s.EntryPrice = (prevQty*s.EntryPrice + qty*price) / total
	s.Quantity = signed(s.Side, total)
	s.AveragingCount++
}

// UnrealizedPnL at price using the averaged entry
func (s *SymbolState) UnrealizedPnL(price float64) float64 {
	return (price - s.EntryPrice) * s.Quantity
}

// ROI is unrealized PnL over committed margin, in percent
func (s *SymbolState) ROI(price float64, leverage int) float64 {
	return roi(s.EntryPrice, s.Quantity, price, leverage)
}

// BaseROI is ROI measured from the first fill
func (s *SymbolState) BaseROI(price float64, leverage int) float64 {
	return roi(s.EntryBasePrice, s.Quantity, price, leverage)
}

// ObserveROI raises the high-water mark and latches the trigger
func (s *SymbolState) ObserveROI(roi float64, trigger *float64) {
	if roi > s.ROIHighWaterMark {
		s.ROIHighWaterMark = roi
	}
	if trigger != nil && !s.ROITriggerActivated && s.ROIHighWaterMark >= *trigger {
		s.ROITriggerActivated = true
	}
}

// Summary returns a read-only view
func (s *SymbolState) Summary() PositionSummary {
	return PositionSummary{
		Symbol:              s.Symbol,
		PositionOpen:        s.PositionOpen,
		Side:                s.Side,
		Quantity:            s.Quantity,
		EntryPrice:          s.EntryPrice,
		EntryBasePrice:      s.EntryBasePrice,
		AveragingCount:      s.AveragingCount,
		ROIHighWaterMark:    s.ROIHighWaterMark,
		ROITriggerActivated: s.ROITriggerActivated,
	}
}

func roi(entry, qty, price float64, leverage int) float64 {
	if entry <= 0 || qty == 0 || leverage <= 0 {
		return 0
	}
	invested := entry * math.Abs(qty) / float64(leverage)
	return (price - entry) * qty / invested * 100
}

func signed(side Side, qty float64) float64 {
	qty = math.Abs(qty)
	if side == SideShort {
		return -qty
	}
	return qty
}

// PositionSummary is a JSON view of a SymbolState
type PositionSummary struct {
	Symbol              string  `json:"symbol"`
	PositionOpen        bool    `json:"position_open"`
	Side                Side    `json:"side"`
	Quantity            float64 `json:"quantity"`
	EntryPrice          float64 `json:"entry_price"`
	EntryBasePrice      float64 `json:"entry_base_price"`
	AveragingCount      int     `json:"averaging_count"`
	ROIHighWaterMark    float64 `json:"roi_high_water_mark"`
	ROITriggerActivated bool    `json:"roi_trigger_activated"`
}

// ExchangePosition is a position as reported by the exchange
type ExchangePosition struct {
	Symbol        string  `json:"symbol"`
	Amount        float64 `json:"amount"`
	EntryPrice    float64 `json:"entry_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// AccountSnapshot aggregates open positions by side
type AccountSnapshot struct {
	LongCount  int       `json:"long_count"`
	ShortCount int       `json:"short_count"`
	LongPnL    float64   `json:"long_pnl"`
	ShortPnL   float64   `json:"short_pnl"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewAccountSnapshot builds a snapshot from exchange positions
func NewAccountSnapshot(positions []ExchangePosition, at time.Time) AccountSnapshot {
	snap := AccountSnapshot{UpdatedAt: at}
	for _, p := range positions {
		switch {
		case p.Amount > 0:
			snap.LongCount++
			snap.LongPnL += p.UnrealizedPnL
		case p.Amount < 0:
			snap.ShortCount++
			snap.ShortPnL += p.UnrealizedPnL
		}
	}
	return snap
}

// TradeRecord is a closed position
type TradeRecord struct {
	BotID          string    `json:"bot_id"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Quantity       float64   `json:"quantity"`
	EntryPrice     float64   `json:"entry_price"`
	ExitPrice      float64   `json:"exit_price"`
	PnL            float64   `json:"pnl"`
	ROI            float64   `json:"roi"`
	AveragingCount int       `json:"averaging_count"`
	Reason         string    `json:"reason"`
	OpenedAt       time.Time `json:"opened_at,omitempty"`
	ClosedAt       time.Time `json:"closed_at"`
}

// TradeStats summarizes closed trades
type TradeStats struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnL float64 `json:"total_pnl"`
	WinRate  float64 `json:"win_rate"`
}

// SummarizeTrades aggregates trades. WinRate is a percentage.
func SummarizeTrades(trades []TradeRecord) TradeStats {
	var s TradeStats
	for _, t := range trades {
		s.Trades++
		s.TotalPnL += t.PnL
		switch {
		case t.PnL > 0:
			s.Wins++
		case t.PnL < 0:
			s.Losses++
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	return s
}
