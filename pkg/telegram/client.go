package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIURL is the Bot API root
const DefaultAPIURL = "https://api.telegram.org"

// Client sends chat messages through the Telegram Bot API.
// An empty token or chat id turns every send into a no-op.
type Client struct {
	apiURL     string
	token      string
	chatID     string
	httpClient *http.Client
}

// NewClient creates a client
func NewClient(apiURL, token, chatID string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether the client has a destination
func (c *Client) Enabled() bool {
	return c.token != "" && c.chatID != ""
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// SendMessage posts an HTML formatted message
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if !c.Enabled() || strings.TrimSpace(text) == "" {
		return nil
	}

	payload, err := json.Marshal(sendMessageRequest{ChatID: c.chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var result sendMessageResponse
	if err := json.Unmarshal(body, &result); err != nil || !result.OK {
		return fmt.Errorf("telegram sendMessage failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return nil
}
