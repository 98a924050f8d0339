package redis

import "fmt"

// Redis key patterns: entity:id or entity:id:attribute

// ExchangeInfoKey caches tradable symbol metadata for a margin asset
func ExchangeInfoKey(marginAsset string) string {
	return fmt.Sprintf("cache:exchange_info:%s", marginAsset)
}

// BotEventsKey is the capped lifecycle journal of a bot
func BotEventsKey(botID string) string {
	return fmt.Sprintf("bot_events:%s", botID)
}

// BotTradesKey is the sorted set of closed trades of a bot, scored by close time
func BotTradesKey(botID string) string {
	return fmt.Sprintf("bot_trades:%s", botID)
}

// RateLimitKey counts API requests per identifier and action
func RateLimitKey(identifier, action string) string {
	return fmt.Sprintf("rate_limit:%s:%s", action, identifier)
}

// Pub/Sub channels
const (
	ChannelBotEvents = "channel:bot_events"
)
