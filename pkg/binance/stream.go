package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultStreamURL is the raw stream endpoint for futures market data
	DefaultStreamURL = "wss://fstream.binance.com/ws"

	streamReadTimeout = 60 * time.Second
)

// TradeEvent is a single <symbol>@trade message
type TradeEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// TradeStream is one websocket connection carrying trades for one symbol
type TradeStream struct {
	conn   *websocket.Conn
	symbol string
}

// TradeStreamURL returns the stream URL for symbol under baseURL
func TradeStreamURL(baseURL, symbol string) string {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	return fmt.Sprintf("%s/%s@trade", strings.TrimRight(baseURL, "/"), strings.ToLower(symbol))
}

// DialTradeStream opens the trade stream of symbol
func DialTradeStream(ctx context.Context, baseURL, symbol string) (*TradeStream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, TradeStreamURL(baseURL, symbol), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to trade stream %s: %w", symbol, err)
	}

	// the server pings every few minutes; the default handler answers with a pong
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	return &TradeStream{conn: conn, symbol: symbol}, nil
}

// Read blocks until the next trade and returns its price
func (s *TradeStream) Read() (float64, error) {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
			return 0, err
		}
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return 0, err
		}

		var ev TradeEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			continue
		}
		if ev.Price == "" {
			continue
		}
		price := parseFloat(ev.Price)
		if price <= 0 {
			continue
		}
		return price, nil
	}
}

// Close closes the connection
func (s *TradeStream) Close() error {
	return s.conn.Close()
}
