package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"perpbot/internal/model"
	"perpbot/pkg/redis"
)

const eventJournalTTL = 7 * 24 * time.Hour

type EventRepository struct {
	redis   *redis.Client
	maxSize int64
}

func NewEventRepository(redisClient *redis.Client, maxSize int) *EventRepository {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &EventRepository{
		redis:   redisClient,
		maxSize: int64(maxSize),
	}
}

// Append records an event in the bot journal, newest first
func (r *EventRepository) Append(ctx context.Context, event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.redis.PushCapped(ctx, redis.BotEventsKey(event.BotID), r.maxSize, eventJournalTTL, data)
}

// List returns up to limit recent events of a bot, newest first
func (r *EventRepository) List(ctx context.Context, botID string, limit int) ([]model.Event, error) {
	if limit <= 0 || int64(limit) > r.maxSize {
		limit = int(r.maxSize)
	}
	raw, err := r.redis.LRange(ctx, redis.BotEventsKey(botID), 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	events := make([]model.Event, 0, len(raw))
	for _, item := range raw {
		var ev model.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
