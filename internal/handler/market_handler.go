package handler

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"perpbot/internal/model"
	"perpbot/internal/util"

	"github.com/gin-gonic/gin"
)

// SymbolLister lists tradable perpetual symbols
type SymbolLister interface {
	TradableSymbols(ctx context.Context) ([]model.SymbolInfo, error)
}

// SignalReader evaluates the current entry and exit signals of a symbol
type SignalReader interface {
	EntrySignal(ctx context.Context, symbol string) model.Signal
	ExitSignal(ctx context.Context, symbol string) model.Signal
}

type MarketHandler struct {
	symbols SymbolLister
	signals SignalReader
}

func NewMarketHandler(symbols SymbolLister, signals SignalReader) *MarketHandler {
	return &MarketHandler{symbols: symbols, signals: signals}
}

// GetSymbols handles GET /api/v1/market/symbols
func (h *MarketHandler) GetSymbols(c *gin.Context) {
	symbols, err := h.symbols.TradableSymbols(c.Request.Context())
	if err != nil {
		util.SendError(c, util.WrapError(http.StatusServiceUnavailable, util.ErrCodeInternal, "symbol list unavailable", err))
		return
	}

	minLev, err := strconv.Atoi(c.DefaultQuery("min_leverage", "0"))
	if err != nil || minLev < 0 {
		util.SendError(c, util.ErrBadRequest("min_leverage must be a non-negative integer"))
		return
	}
	out := make([]model.SymbolInfo, 0, len(symbols))
	for _, s := range symbols {
		if s.MaxLeverage >= minLev {
			out = append(out, s)
		}
	}

	util.SendSuccess(c, gin.H{
		"symbols": out,
		"count":   len(out),
	})
}

// GetSignal handles GET /api/v1/market/signals/:symbol
func (h *MarketHandler) GetSignal(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	ctx := c.Request.Context()

	symbols, err := h.symbols.TradableSymbols(ctx)
	if err != nil {
		util.SendError(c, util.WrapError(http.StatusServiceUnavailable, util.ErrCodeInternal, "symbol list unavailable", err))
		return
	}
	if !slices.ContainsFunc(symbols, func(s model.SymbolInfo) bool { return s.Symbol == symbol }) {
		util.SendError(c, util.ErrNotFound("not a tradable symbol: "+symbol))
		return
	}

	util.SendSuccess(c, gin.H{
		"symbol": symbol,
		"entry":  h.signals.EntrySignal(ctx, symbol),
		"exit":   h.signals.ExitSignal(ctx, symbol),
	})
}

// Register mounts the market routes on group
func (h *MarketHandler) Register(group *gin.RouterGroup) {
	m := group.Group("/market")
	m.GET("/symbols", h.GetSymbols)
	m.GET("/signals/:symbol", h.GetSignal)
}
