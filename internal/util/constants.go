package util

import "time"

// Signal sensitivities (volume divergence percent)
const (
	EntrySignalThreshold = 20.0
	ExitSignalThreshold  = 40.0
	RSIPeriod            = 14
)

// Lifecycle cool-downs
const (
	TradeCooldown        = 60 * time.Second
	ReentryCooldown      = time.Hour
	AveragingCooldown    = 60 * time.Second
	CloseRetryCooldown   = 30 * time.Second
	PositionSyncInterval = 30 * time.Second
)

// Scheduler timings
const (
	ActionCooldown       = 3 * time.Second
	IdlePoll             = 500 * time.Millisecond
	EmptyBackoff         = 5 * time.Second
	ErrorBackoff         = time.Second
	SnapshotInterval     = 10 * time.Second
	ReplacementDelay     = 2 * time.Second
	StopInflightWait     = 10 * time.Second
	OrderSettleDelay     = time.Second
	StreamPriceFreshness = 5 * time.Second
)

// MaxAveragingCount bounds martingale add-ons per position
const MaxAveragingCount = 7

// AveragingSchedule holds the loss ROI (%) that fires the i-th add-on
var AveragingSchedule = [MaxAveragingCount]float64{200, 300, 500, 800, 1300, 2100, 3400}

// Exchange defaults
const (
	DefaultStepSize    = 0.001
	DefaultMaxLeverage = 100
	DefaultScanSize    = 50
)
