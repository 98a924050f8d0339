package binance

import (
	"encoding/json"
	"strconv"
)

// Filter types used from exchangeInfo
const (
	FilterLotSize  = "LOT_SIZE"
	FilterLeverage = "LEVERAGE"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// ExchangeInfo is the /fapi/v1/exchangeInfo payload
type ExchangeInfo struct {
	ServerTime int64          `json:"serverTime"`
	Symbols    []SymbolDetail `json:"symbols"`
}

// SymbolDetail is one contract in exchangeInfo
type SymbolDetail struct {
	Symbol       string         `json:"symbol"`
	Status       string         `json:"status"`
	ContractType string         `json:"contractType"`
	BaseAsset    string         `json:"baseAsset"`
	QuoteAsset   string         `json:"quoteAsset"`
	MarginAsset  string         `json:"marginAsset"`
	Filters      []SymbolFilter `json:"filters"`
}

// SymbolFilter carries the filter fields the engine reads
type SymbolFilter struct {
	FilterType  string      `json:"filterType"`
	StepSize    string      `json:"stepSize,omitempty"`
	MinQty      string      `json:"minQty,omitempty"`
	MaxLeverage json.Number `json:"maxLeverage,omitempty"`
}

// StepSize returns the LOT_SIZE step, or def when absent
func (s SymbolDetail) StepSize(def float64) float64 {
	for _, f := range s.Filters {
		if f.FilterType == FilterLotSize {
			if v, err := strconv.ParseFloat(f.StepSize, 64); err == nil && v > 0 {
				return v
			}
		}
	}
	return def
}

// MaxLeverage returns the LEVERAGE filter cap, or def when absent
func (s SymbolDetail) MaxLeverage(def int) int {
	for _, f := range s.Filters {
		if f.FilterType == FilterLeverage {
			if v, err := f.MaxLeverage.Int64(); err == nil && v > 0 {
				return int(v)
			}
		}
	}
	return def
}

// LeverageBracket is one entry of /fapi/v1/leverageBracket
type LeverageBracket struct {
	Symbol   string `json:"symbol"`
	Brackets []struct {
		Bracket         int `json:"bracket"`
		InitialLeverage int `json:"initialLeverage"`
	} `json:"brackets"`
}

// MaxLeverage is the initial leverage of the lowest notional bracket
func (b LeverageBracket) MaxLeverage() int {
	max := 0
	for _, br := range b.Brackets {
		if br.InitialLeverage > max {
			max = br.InitialLeverage
		}
	}
	return max
}

// Kline is a decoded candlestick row
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// TickerPrice is the /fapi/v1/ticker/price payload
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Time   int64  `json:"time"`
}

// Account is the subset of /fapi/v2/account the engine reads
type Account struct {
	TotalWalletBalance string         `json:"totalWalletBalance"`
	AvailableBalance   string         `json:"availableBalance"`
	Assets             []AccountAsset `json:"assets"`
}

// AccountAsset is a per-asset balance row
type AccountAsset struct {
	Asset            string `json:"asset"`
	WalletBalance    string `json:"walletBalance"`
	AvailableBalance string `json:"availableBalance"`
}

// PositionRisk is one row of /fapi/v2/positionRisk
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	PositionSide     string `json:"positionSide"`
}

// Amount parses PositionAmt
func (p PositionRisk) Amount() float64 { return parseFloat(p.PositionAmt) }

// Entry parses EntryPrice
func (p PositionRisk) Entry() float64 { return parseFloat(p.EntryPrice) }

// UnrealizedPnL parses UnRealizedProfit
func (p PositionRisk) UnrealizedPnL() float64 { return parseFloat(p.UnRealizedProfit) }

// OrderResponse is the RESULT response of a new order
type OrderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	CumQuote      string `json:"cumQuote"`
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseFloat parses an exchange decimal string, 0 on failure
func ParseFloat(s string) float64 { return parseFloat(s) }
