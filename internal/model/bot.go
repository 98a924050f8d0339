package model

import (
	"errors"
	"strings"
	"time"
)

// Bot status constants
const (
	BotStatusRunning  = "running"
	BotStatusStopping = "stopping"
	BotStatusStopped  = "stopped"
)

// Bot mode constants
const (
	BotModeAuto  = "auto"
	BotModeFixed = "fixed"
)

// StrategyRSIVolume is the RSI plus volume divergence strategy
const StrategyRSIVolume = "rsi_volume"

// BotConfig is the immutable configuration of a bot instance
type BotConfig struct {
	Strategy   string   `json:"strategy"`
	Symbol     string   `json:"symbol,omitempty"` // empty = auto-select
	Leverage   int      `json:"leverage"`
	Percent    float64  `json:"percent"`     // capital percent per trade
	TakeProfit float64  `json:"take_profit"` // ROI %
	StopLoss   float64  `json:"stop_loss"`   // ROI %, 0 disables
	ROITrigger *float64 `json:"roi_trigger,omitempty"`
	MaxCoins   int      `json:"max_coins"`
}

// BotConfigRequest is the createBot payload
type BotConfigRequest struct {
	Strategy   string   `json:"strategy"`
	Symbol     string   `json:"symbol"`
	Leverage   int      `json:"leverage" binding:"required,min=1,max=125"`
	Percent    float64  `json:"percent" binding:"required,gt=0,lte=100"`
	TakeProfit float64  `json:"take_profit" binding:"required,gt=0"`
	StopLoss   float64  `json:"stop_loss" binding:"gte=0"`
	ROITrigger *float64 `json:"roi_trigger" binding:"omitempty,gt=0"`
	MaxCoins   int      `json:"max_coins" binding:"omitempty,min=1,max=50"`
}

// ToConfig converts the request into a normalized config
func (r BotConfigRequest) ToConfig() BotConfig {
	cfg := BotConfig{
		Strategy:   r.Strategy,
		Symbol:     r.Symbol,
		Leverage:   r.Leverage,
		Percent:    r.Percent,
		TakeProfit: r.TakeProfit,
		StopLoss:   r.StopLoss,
		ROITrigger: r.ROITrigger,
		MaxCoins:   r.MaxCoins,
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills defaults
func (c *BotConfig) Normalize() {
	if c.Strategy == "" {
		c.Strategy = StrategyRSIVolume
	}
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.MaxCoins <= 0 {
		c.MaxCoins = 1
	}
}

// Validate checks the config
func (c BotConfig) Validate() error {
	switch {
	case c.Strategy != StrategyRSIVolume:
		return errors.New("unsupported strategy: " + c.Strategy)
	case c.Leverage < 1:
		return errors.New("leverage must be at least 1")
	case c.Percent <= 0 || c.Percent > 100:
		return errors.New("percent must be in (0, 100]")
	case c.TakeProfit <= 0:
		return errors.New("take_profit must be positive")
	case c.StopLoss < 0:
		return errors.New("stop_loss must not be negative")
	case c.ROITrigger != nil && *c.ROITrigger <= 0:
		return errors.New("roi_trigger must be positive")
	case c.MaxCoins < 1:
		return errors.New("max_coins must be at least 1")
	}
	return nil
}

// Mode returns fixed when a symbol is pinned
func (c BotConfig) Mode() string {
	if c.Symbol != "" {
		return BotModeFixed
	}
	return BotModeAuto
}

// BotStatus is the run-state view returned by getStatus
type BotStatus struct {
	BotID     string            `json:"bot_id"`
	Running   bool              `json:"running"`
	Status    string            `json:"status"`
	Mode      string            `json:"mode"`
	Strategy  string            `json:"strategy"`
	Symbol    string            `json:"symbol,omitempty"`
	Symbols   []string          `json:"symbols"`
	Positions []PositionSummary `json:"positions"`
	Config    BotConfig         `json:"config"`
	StartedAt time.Time         `json:"started_at"`
}
