package model

import "time"

// EventType identifies a lifecycle event
type EventType string

const (
	EventBotStarted      EventType = "bot_started"
	EventBotStopped      EventType = "bot_stopped"
	EventSymbolAdded     EventType = "symbol_added"
	EventSymbolReleased  EventType = "symbol_released"
	EventPositionOpened  EventType = "position_opened"
	EventPositionClosed  EventType = "position_closed"
	EventPositionAverage EventType = "position_averaged"
	EventError           EventType = "error"
)

// Event is a significant lifecycle event posted to the notification sink
type Event struct {
	Type    EventType              `json:"type"`
	BotID   string                 `json:"bot_id"`
	Symbol  string                 `json:"symbol,omitempty"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	Time    time.Time              `json:"time"`
}
