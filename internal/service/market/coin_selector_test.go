package market

import (
	"context"
	"errors"
	"sync"
	"testing"

	"perpbot/internal/model"
)

type fakeUniverse struct {
	mu        sync.Mutex
	symbols   []model.SymbolInfo
	positions []model.ExchangePosition
	// positions that appear on the per-symbol recheck only
	late   []model.ExchangePosition
	posErr error
}

func (f *fakeUniverse) TradableSymbols(ctx context.Context) ([]model.SymbolInfo, error) {
	return f.symbols, nil
}

func (f *fakeUniverse) Positions(ctx context.Context, symbol string) ([]model.ExchangePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posErr != nil {
		return nil, f.posErr
	}
	if symbol == "" {
		return f.positions, nil
	}
	var out []model.ExchangePosition
	for _, p := range append(append([]model.ExchangePosition{}, f.positions...), f.late...) {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeSignals map[string]model.Signal

func (f fakeSignals) EntrySignal(ctx context.Context, symbol string) model.Signal {
	return f[symbol]
}

func infos(max int, symbols ...string) []model.SymbolInfo {
	out := make([]model.SymbolInfo, len(symbols))
	for i, s := range symbols {
		out[i] = model.SymbolInfo{Symbol: s, StepSize: 0.001, MaxLeverage: max}
	}
	return out
}

func TestFindBestCoinFilters(t *testing.T) {
	u := &fakeUniverse{
		symbols: append(infos(50, "AAAUSDC", "BBBUSDC", "CCCUSDC", "DDDUSDC"),
			model.SymbolInfo{Symbol: "LOWUSDC", MaxLeverage: 5}),
		positions: []model.ExchangePosition{{Symbol: "BBBUSDC", Amount: 1}, {Symbol: "DDDUSDC", Amount: 0}},
	}
	sig := fakeSignals{
		"AAAUSDC": model.SignalBuy,
		"BBBUSDC": model.SignalBuy,
		"CCCUSDC": model.SignalSell,
		"DDDUSDC": model.SignalBuy,
		"LOWUSDC": model.SignalBuy,
	}
	s := NewCoinSelector(u, sig, 50)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		got, ok := s.FindBestCoin(context.Background(), model.SignalBuy, []string{"aaausdc"}, 10)
		if !ok {
			t.Fatal("expected a candidate")
		}
		seen[got] = true
	}
	if len(seen) != 1 || !seen["DDDUSDC"] {
		t.Fatalf("picked %v, want only DDDUSDC", seen)
	}
}

func TestFindBestCoinUniformChoice(t *testing.T) {
	u := &fakeUniverse{symbols: infos(20, "AAAUSDC", "BBBUSDC", "CCCUSDC")}
	sig := fakeSignals{"AAAUSDC": model.SignalSell, "BBBUSDC": model.SignalSell, "CCCUSDC": model.SignalBuy}
	s := NewCoinSelector(u, sig, 50)

	var picks []int
	s.pick = func(n int) int {
		if n != 2 {
			t.Errorf("candidate count = %d, want 2", n)
		}
		picks = append(picks, n)
		return len(picks) % n
	}

	first, _ := s.FindBestCoin(context.Background(), model.SignalSell, nil, 20)
	second, _ := s.FindBestCoin(context.Background(), model.SignalSell, nil, 20)
	if first == second {
		t.Fatalf("both picks = %s", first)
	}
}

func TestFindBestCoinNoCandidates(t *testing.T) {
	u := &fakeUniverse{symbols: infos(20, "AAAUSDC")}
	s := NewCoinSelector(u, fakeSignals{"AAAUSDC": model.SignalBuy}, 50)

	if _, ok := s.FindBestCoin(context.Background(), model.SignalSell, nil, 10); ok {
		t.Fatal("expected none for mismatched direction")
	}
	if _, ok := s.FindBestCoin(context.Background(), model.SignalNone, nil, 10); ok {
		t.Fatal("expected none for empty direction")
	}
	if _, ok := s.FindBestCoin(context.Background(), model.SignalBuy, nil, 25); ok {
		t.Fatal("expected none above max leverage")
	}

	u.posErr = errors.New("exchange down")
	if _, ok := s.FindBestCoin(context.Background(), model.SignalBuy, nil, 10); ok {
		t.Fatal("expected none when positions are unknown")
	}
}

func TestFindBestCoinRechecksChosenSymbol(t *testing.T) {
	u := &fakeUniverse{
		symbols: infos(20, "AAAUSDC"),
		late:    []model.ExchangePosition{{Symbol: "AAAUSDC", Amount: -3}},
	}
	s := NewCoinSelector(u, fakeSignals{"AAAUSDC": model.SignalBuy}, 50)
	if got, ok := s.FindBestCoin(context.Background(), model.SignalBuy, nil, 10); ok {
		t.Fatalf("picked %s despite late position", got)
	}
}

func TestFindBestCoinScanCap(t *testing.T) {
	u := &fakeUniverse{symbols: infos(20, "AAAUSDC", "BBBUSDC", "CCCUSDC")}
	s := NewCoinSelector(u, fakeSignals{"CCCUSDC": model.SignalBuy}, 2)
	if _, ok := s.FindBestCoin(context.Background(), model.SignalBuy, nil, 10); ok {
		t.Fatal("symbol beyond scan cap was considered")
	}
}
