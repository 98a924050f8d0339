package market

import (
	"context"

	"perpbot/internal/model"
	"perpbot/internal/util"
	"perpbot/pkg/logger"
)

// CandleSource returns recent candles for a symbol, oldest first
type CandleSource interface {
	Candles(ctx context.Context, symbol string) ([]model.Candle, error)
}

// SignalEngine classifies direction from RSI and volume divergence
type SignalEngine struct {
	source     CandleSource
	minCandles int
	log        *logger.Logger
}

// NewSignalEngine creates an engine that ignores symbols with fewer than minCandles candles
func NewSignalEngine(source CandleSource, minCandles int) *SignalEngine {
	if minCandles < 3 {
		minCandles = 3
	}
	return &SignalEngine{
		source:     source,
		minCandles: minCandles,
		log:        logger.GetLogger().WithField("component", "signal"),
	}
}

// EntrySignal uses the 20% volume sensitivity
func (e *SignalEngine) EntrySignal(ctx context.Context, symbol string) model.Signal {
	return e.signal(ctx, symbol, util.EntrySignalThreshold)
}

// ExitSignal uses the 40% volume sensitivity
func (e *SignalEngine) ExitSignal(ctx context.Context, symbol string) model.Signal {
	return e.signal(ctx, symbol, util.ExitSignalThreshold)
}

func (e *SignalEngine) signal(ctx context.Context, symbol string, threshold float64) model.Signal {
	candles, err := e.source.Candles(ctx, symbol)
	if err != nil {
		e.log.Debugf("%s: candles unavailable: %v", symbol, err)
		return model.SignalNone
	}
	if len(candles) < e.minCandles {
		e.log.Debugf("%s: only %d candles", symbol, len(candles))
		return model.SignalNone
	}
	sig := Evaluate(candles, threshold)
	e.log.Debugf("%s: signal=%q threshold=%.0f%%", symbol, sig, threshold)
	return sig
}

// Evaluate classifies the last three candles (prev, current, latest)
func Evaluate(candles []model.Candle, threshold float64) model.Signal {
	if len(candles) < 3 {
		return model.SignalNone
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	rsi := RSI(closes, util.RSIPeriod)
	prev, current := candles[len(candles)-3], candles[len(candles)-2]
	return Classify(rsi, prev, current, threshold)
}

// RSI averages gains and losses over the first period deltas.
// It returns 50 without enough samples and 100 when there is no loss.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}
	var gains, losses float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Classify applies the RSI bucket table to the price and volume moves from prev to current
func Classify(rsi float64, prev, current model.Candle, threshold float64) model.Signal {
	priceUp := current.Close > prev.Close
	priceDown := current.Close < prev.Close
	volumeUp := current.Volume > prev.Volume*(1+threshold/100)
	volumeDown := current.Volume < prev.Volume*(1-threshold/100)

	switch {
	case rsi > 80:
		if priceUp && volumeUp {
			return model.SignalSell
		}
		if priceUp && volumeDown {
			return model.SignalBuy
		}
	case rsi < 20:
		if priceDown && volumeDown {
			return model.SignalSell
		}
		if priceDown && volumeUp {
			return model.SignalBuy
		}
	case rsi > 20 && !priceDown && volumeDown:
		return model.SignalBuy
	case rsi < 80 && !priceUp && volumeUp:
		return model.SignalSell
	}
	return model.SignalNone
}
