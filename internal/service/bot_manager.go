package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"perpbot/internal/model"
	"perpbot/internal/util"
	"perpbot/pkg/binance"
	"perpbot/pkg/logger"

	"github.com/google/uuid"
)

// EventReader lists journaled events of a bot
type EventReader interface {
	List(ctx context.Context, botID string, limit int) ([]model.Event, error)
}

// TradeReader lists the closed trades of a bot
type TradeReader interface {
	List(ctx context.Context, botID string, limit int) ([]model.TradeRecord, error)
}

// BotManager creates, stops and reports on bots
type BotManager struct {
	deps    BotDeps
	events  EventReader
	trades  TradeReader
	maxBots int
	log     *logger.Logger

	bots map[string]*Bot
	mu   sync.RWMutex
}

// NewBotManager creates a manager. events and trades may be nil.
func NewBotManager(deps BotDeps, events EventReader, trades TradeReader, maxBots int) *BotManager {
	if deps.Timings == (Timings{}) {
		deps.Timings = DefaultTimings()
	}
	if maxBots <= 0 {
		maxBots = 20
	}
	return &BotManager{
		deps:    deps,
		events:  events,
		trades:  trades,
		maxBots: maxBots,
		log:     logger.GetLogger().WithField("component", "bot_manager"),
		bots:    make(map[string]*Bot),
	}
}

// CreateBot validates cfg, checks the account balance and starts a bot
func (m *BotManager) CreateBot(ctx context.Context, cfg model.BotConfig) (string, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return "", util.ErrValidation(err.Error())
	}

	m.mu.RLock()
	count := len(m.bots)
	m.mu.RUnlock()
	if count >= m.maxBots {
		return "", util.NewAppError(http.StatusConflict, util.ErrCodeBotLimit, fmt.Sprintf("at most %d bots may run", m.maxBots))
	}

	balance, err := m.deps.Client.AvailableBalance(ctx)
	if err != nil {
		if binance.IsAuthError(err) {
			return "", util.ErrExchangeAuth(err)
		}
		return "", util.ErrBalanceUnavailable(err)
	}
	if balance <= 0 {
		return "", util.ErrBalanceUnavailable(fmt.Errorf("available balance is %.4f", balance))
	}

	if cfg.Mode() == model.BotModeFixed {
		info, err := m.deps.Client.SymbolInfo(ctx, cfg.Symbol)
		if err != nil {
			return "", util.ErrValidation(fmt.Sprintf("symbol %s is not tradable", cfg.Symbol))
		}
		if info.MaxLeverage < cfg.Leverage {
			return "", util.ErrValidation(fmt.Sprintf("%s supports at most %dx leverage", cfg.Symbol, info.MaxLeverage))
		}
		if m.deps.Registry.IsActive(cfg.Symbol) {
			return "", util.ErrConflict(fmt.Sprintf("%s is already traded by another bot", cfg.Symbol))
		}
	}

	id := uuid.NewString()
	bot := NewBot(id, cfg, m.deps)

	m.mu.Lock()
	if len(m.bots) >= m.maxBots {
		m.mu.Unlock()
		return "", util.NewAppError(http.StatusConflict, util.ErrCodeBotLimit, fmt.Sprintf("at most %d bots may run", m.maxBots))
	}
	m.bots[id] = bot
	m.mu.Unlock()

	bot.Start()
	m.log.Infof("Bot %s created (%s mode, balance %.4f)", id, cfg.Mode(), balance)
	return id, nil
}

// StopBot stops a bot and forgets it
func (m *BotManager) StopBot(ctx context.Context, botID string) error {
	m.mu.Lock()
	bot, ok := m.bots[botID]
	if ok {
		delete(m.bots, botID)
	}
	m.mu.Unlock()

	if !ok {
		return util.ErrBotNotFound(botID)
	}
	bot.Stop(ctx)
	return nil
}

// StopAll stops every bot concurrently
func (m *BotManager) StopAll(ctx context.Context) int {
	m.mu.Lock()
	bots := make([]*Bot, 0, len(m.bots))
	for _, b := range m.bots {
		bots = append(bots, b)
	}
	m.bots = make(map[string]*Bot)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range bots {
		wg.Add(1)
		go func(b *Bot) {
			defer wg.Done()
			b.Stop(ctx)
		}(b)
	}
	wg.Wait()

	if len(bots) > 0 {
		m.log.Infof("stopped %d bots", len(bots))
	}
	return len(bots)
}

// GetStatus returns the run state of a bot
func (m *BotManager) GetStatus(botID string) (*model.BotStatus, error) {
	bot, err := m.get(botID)
	if err != nil {
		return nil, err
	}
	status := bot.Status()
	return &status, nil
}

// ListBots returns the status of every bot, oldest first
func (m *BotManager) ListBots() []model.BotStatus {
	m.mu.RLock()
	out := make([]model.BotStatus, 0, len(m.bots))
	for _, b := range m.bots {
		out = append(out, b.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].BotID < out[j].BotID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// StopSymbol closes and releases one symbol of a bot
func (m *BotManager) StopSymbol(ctx context.Context, botID, symbol string) error {
	bot, err := m.get(botID)
	if err != nil {
		return err
	}
	symbol = strings.ToUpper(symbol)
	if !bot.StopSymbol(symbol) {
		return util.NewAppError(http.StatusNotFound, util.ErrCodeSymbolNotFound, fmt.Sprintf("bot %s does not hold %s", botID, symbol))
	}
	return nil
}

// Events returns recent journaled events of a bot, live or stopped
func (m *BotManager) Events(ctx context.Context, botID string, limit int) ([]model.Event, error) {
	if m.events == nil {
		return []model.Event{}, nil
	}
	events, err := m.events.List(ctx, botID, limit)
	if err != nil {
		return nil, util.WrapError(http.StatusInternalServerError, util.ErrCodeInternal, "failed to read events", err)
	}
	return events, nil
}

// Trades returns recent closed trades of a bot, live or stopped
func (m *BotManager) Trades(ctx context.Context, botID string, limit int) ([]model.TradeRecord, error) {
	if m.trades == nil {
		return []model.TradeRecord{}, nil
	}
	trades, err := m.trades.List(ctx, botID, limit)
	if err != nil {
		return nil, util.WrapError(http.StatusInternalServerError, util.ErrCodeInternal, "failed to read trades", err)
	}
	return trades, nil
}

// Shutdown stops every bot, bounded by ctx
func (m *BotManager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.StopAll(ctx)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("bot shutdown timed out")
	}
}

func (m *BotManager) get(botID string) (*Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bot, ok := m.bots[botID]
	if !ok {
		return nil, util.ErrBotNotFound(botID)
	}
	return bot, nil
}
