package repository

import (
	"context"
	"errors"
	"time"

	"perpbot/internal/model"
	"perpbot/pkg/redis"
)

type MarketRepository struct {
	redis *redis.Client
}

func NewMarketRepository(redisClient *redis.Client) *MarketRepository {
	return &MarketRepository{
		redis: redisClient,
	}
}

type cachedSymbols struct {
	SavedAt time.Time          `json:"saved_at"`
	Symbols []model.SymbolInfo `json:"symbols"`
}

// LoadSymbols returns the cached tradable symbols of a margin asset and when
// they were saved, nil when absent
func (r *MarketRepository) LoadSymbols(ctx context.Context, marginAsset string) ([]model.SymbolInfo, time.Time, error) {
	var cached cachedSymbols
	err := r.redis.GetJSON(ctx, redis.ExchangeInfoKey(marginAsset), &cached)
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return cached.Symbols, cached.SavedAt, nil
}

// SaveSymbols caches tradable symbols for ttl
func (r *MarketRepository) SaveSymbols(ctx context.Context, marginAsset string, symbols []model.SymbolInfo, savedAt time.Time, ttl time.Duration) error {
	return r.redis.SetJSON(ctx, redis.ExchangeInfoKey(marginAsset), cachedSymbols{SavedAt: savedAt, Symbols: symbols}, ttl)
}
