package model

import "time"

// Signal is a directional classification
type Signal string

const (
	SignalNone Signal = ""
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
)

// Candle is a closed (or forming) kline
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// SymbolInfo is per-symbol trading metadata
type SymbolInfo struct {
	Symbol      string  `json:"symbol"`
	StepSize    float64 `json:"step_size"`
	MaxLeverage int     `json:"max_leverage"`
}

// OrderResult is the fill outcome of a market order
type OrderResult struct {
	OrderID       int64   `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Status        string  `json:"status"`
	ExecutedQty   float64 `json:"executed_qty"`
	AvgPrice      float64 `json:"avg_price"`
}
