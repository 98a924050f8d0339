package market

import (
	"context"
	"math/rand/v2"
	"strings"

	"perpbot/internal/metrics"
	"perpbot/internal/model"
	"perpbot/pkg/logger"
)

// Universe lists tradable symbols and exchange positions
type Universe interface {
	TradableSymbols(ctx context.Context) ([]model.SymbolInfo, error)
	Positions(ctx context.Context, symbol string) ([]model.ExchangePosition, error)
}

// EntrySignaler evaluates the entry signal of a symbol
type EntrySignaler interface {
	EntrySignal(ctx context.Context, symbol string) model.Signal
}

// CoinSelector finds a symbol whose entry signal matches a direction
type CoinSelector struct {
	universe Universe
	signals  EntrySignaler
	scanSize int
	pick     func(n int) int
	log      *logger.Logger
}

// NewCoinSelector scans at most scanSize symbols per search
func NewCoinSelector(universe Universe, signals EntrySignaler, scanSize int) *CoinSelector {
	if scanSize <= 0 {
		scanSize = 50
	}
	return &CoinSelector{
		universe: universe,
		signals:  signals,
		scanSize: scanSize,
		pick:     rand.IntN,
		log:      logger.GetLogger().WithField("component", "coin_selector"),
	}
}

// FindBestCoin returns a uniformly random candidate whose entry signal equals
// direction. Excluded symbols, symbols holding an exchange position and
// symbols whose max leverage is below requiredLeverage are skipped.
func (s *CoinSelector) FindBestCoin(ctx context.Context, direction model.Signal, excluded []string, requiredLeverage int) (string, bool) {
	if direction == model.SignalNone {
		return "", false
	}

	universe, err := s.universe.TradableSymbols(ctx)
	if err != nil {
		s.log.Warnf("CoinSelector: symbol list unavailable: %v", err)
		return "", false
	}
	if len(universe) > s.scanSize {
		universe = universe[:s.scanSize]
	}

	held, err := s.openPositions(ctx, "")
	if err != nil {
		s.log.Warnf("CoinSelector: positions unavailable: %v", err)
		return "", false
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, sym := range excluded {
		skip[strings.ToUpper(sym)] = struct{}{}
	}

	var candidates []string
	for _, info := range universe {
		if ctx.Err() != nil {
			return "", false
		}
		if _, ok := skip[info.Symbol]; ok {
			continue
		}
		if _, ok := held[info.Symbol]; ok {
			continue
		}
		if info.MaxLeverage < requiredLeverage {
			continue
		}
		sig := s.signals.EntrySignal(ctx, info.Symbol)
		metrics.Signals.WithLabelValues(metrics.SignalLabel(string(sig))).Inc()
		if sig == direction {
			candidates = append(candidates, info.Symbol)
		}
	}

	if len(candidates) == 0 {
		s.log.Debugf("CoinSelector: no %s candidates among %d symbols", direction, len(universe))
		return "", false
	}

	chosen := candidates[s.pick(len(candidates))]

	// a position may have appeared during the scan
	held, err = s.openPositions(ctx, chosen)
	if err != nil {
		return "", false
	}
	if _, ok := held[chosen]; ok {
		s.log.Infof("CoinSelector: %s gained a position during scan, skipping", chosen)
		return "", false
	}

	s.log.Infof("CoinSelector: picked %s for %s from %d candidates", chosen, direction, len(candidates))
	return chosen, true
}

func (s *CoinSelector) openPositions(ctx context.Context, symbol string) (map[string]struct{}, error) {
	positions, err := s.universe.Positions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	held := make(map[string]struct{})
	for _, p := range positions {
		if p.Amount != 0 {
			held[p.Symbol] = struct{}{}
		}
	}
	return held, nil
}
