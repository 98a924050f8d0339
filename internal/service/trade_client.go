package service

import (
	"context"

	"perpbot/internal/model"
	"perpbot/internal/service/market"

	"github.com/shopspring/decimal"
)

// TradeClient is the exchange surface used by bots
type TradeClient interface {
	market.Universe
	market.CandleSource

	SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error)
	Price(ctx context.Context, symbol string) (float64, error)
	AvailableBalance(ctx context.Context) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	MarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, reduceOnly bool) (*model.OrderResult, error)
	CancelAllOrders(ctx context.Context, symbol string) error
}
