package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"perpbot/internal/model"
	"perpbot/pkg/redis"
)

const tradeHistoryTTL = 30 * 24 * time.Hour

// TradeRepository keeps the closed-trade history of each bot in a sorted set
type TradeRepository struct {
	redis   *redis.Client
	maxSize int64
}

func NewTradeRepository(redisClient *redis.Client, maxSize int) *TradeRepository {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &TradeRepository{
		redis:   redisClient,
		maxSize: int64(maxSize),
	}
}

// Record stores a closed trade scored by its close time
func (r *TradeRepository) Record(ctx context.Context, trade model.TradeRecord) error {
	if trade.ClosedAt.IsZero() {
		trade.ClosedAt = time.Now()
	}
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	score := float64(trade.ClosedAt.UnixMilli())
	return r.redis.AddCapped(ctx, redis.BotTradesKey(trade.BotID), score, string(data), r.maxSize, tradeHistoryTTL)
}

// List returns up to limit closed trades of a bot, newest first
func (r *TradeRepository) List(ctx context.Context, botID string, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 || int64(limit) > r.maxSize {
		limit = int(r.maxSize)
	}
	members, err := r.redis.ZRevRange(ctx, redis.BotTradesKey(botID), 0, int64(limit-1))
	if err != nil {
		return nil, err
	}

	trades := make([]model.TradeRecord, 0, len(members))
	for _, m := range members {
		var t model.TradeRecord
		if err := json.Unmarshal([]byte(m), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}
