package handler

import (
	"context"
	"net/http"
	"testing"

	"perpbot/internal/model"
	"perpbot/internal/util"

	"github.com/gin-gonic/gin"
)

type fakeMarket struct {
	symbols []model.SymbolInfo
}

func (f fakeMarket) TradableSymbols(ctx context.Context) ([]model.SymbolInfo, error) {
	return f.symbols, nil
}

func (f fakeMarket) EntrySignal(ctx context.Context, symbol string) model.Signal {
	return model.SignalBuy
}

func (f fakeMarket) ExitSignal(ctx context.Context, symbol string) model.Signal {
	return model.SignalNone
}

func newMarketRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	m := fakeMarket{symbols: []model.SymbolInfo{
		{Symbol: "ETHUSDC", StepSize: 0.001, MaxLeverage: 100},
		{Symbol: "DOGEUSDC", StepSize: 1, MaxLeverage: 20},
	}}
	r := gin.New()
	NewMarketHandler(m, m).Register(r.Group("/api/v1"))
	return r
}

func TestMarketSymbols(t *testing.T) {
	r := newMarketRouter()

	w, resp := do(r, http.MethodGet, "/api/v1/market/symbols?min_leverage=50", "")
	if w.Code != http.StatusOK || !resp.Success {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	data := resp.Data.(map[string]interface{})
	if data["count"].(float64) != 1 {
		t.Fatalf("count = %v", data["count"])
	}

	w, resp = do(r, http.MethodGet, "/api/v1/market/symbols?min_leverage=lots", "")
	if w.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != util.ErrCodeBadRequest {
		t.Fatalf("bad min_leverage: status %d body %s", w.Code, w.Body.String())
	}
}

func TestMarketSignal(t *testing.T) {
	r := newMarketRouter()

	w, resp := do(r, http.MethodGet, "/api/v1/market/signals/ethusdc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	data := resp.Data.(map[string]interface{})
	if data["symbol"] != "ETHUSDC" || data["entry"] != string(model.SignalBuy) {
		t.Fatalf("data = %v", data)
	}

	w, resp = do(r, http.MethodGet, "/api/v1/market/signals/NOPEUSDC", "")
	if w.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != util.ErrCodeNotFound {
		t.Fatalf("unknown symbol: status %d body %s", w.Code, w.Body.String())
	}
}
