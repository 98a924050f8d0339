package binance

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"perpbot/pkg/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the USDⓈ-M futures REST endpoint
	DefaultBaseURL = "https://fapi.binance.com"

	defaultMaxAttempts = 3
	serverErrorBackoff = time.Second
	apiKeyHeader       = "X-MBX-APIKEY"
)

// Config holds client settings
type Config struct {
	BaseURL           string
	APIKey            string
	APISecret         string
	RecvWindow        int64
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client is a signed REST client for the futures API.
// Every call is retried up to three times: 429 backs off 2^attempt seconds,
// 5xx and transport errors back off one second, 401 and 451 fail fast.
type Client struct {
	baseURL    string
	recvWindow int64
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger

	credMu    sync.RWMutex
	apiKey    string
	apiSecret string
	disabled  atomic.Bool

	maxAttempts int
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	onRetry     func(reason string)
}

// NewClient creates a client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5000
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		recvWindow: cfg.RecvWindow,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 15 * time.Second}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		limiter:     rate.NewLimiter(limit, cfg.Burst),
		log:         logger.GetLogger().WithField("component", "binance"),
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// OnRetry registers a hook invoked with the reason of every retry
func (c *Client) OnRetry(fn func(reason string)) {
	c.onRetry = fn
}

// Disabled reports whether signed calls are blocked after an auth failure
func (c *Client) Disabled() bool {
	return c.disabled.Load()
}

// Reconfigure replaces the credentials and re-enables signed calls
func (c *Client) Reconfigure(apiKey, apiSecret string) {
	c.credMu.Lock()
	c.apiKey = apiKey
	c.apiSecret = apiSecret
	c.credMu.Unlock()
	c.disabled.Store(false)
}

func (c *Client) credentials() (string, string) {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.apiKey, c.apiSecret
}

// ExchangeInfo returns contract metadata
func (c *Client) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	var info ExchangeInfo
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LeverageBrackets returns notional brackets, all symbols when symbol is empty
func (c *Client) LeverageBrackets(ctx context.Context, symbol string) ([]LeverageBracket, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
		var one LeverageBracket
		// single-symbol requests may answer with an object or a one-element list
		var raw json.RawMessage
		if err := c.do(ctx, http.MethodGet, "/fapi/v1/leverageBracket", params, true, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 && raw[0] == '{' {
			if err := json.Unmarshal(raw, &one); err != nil {
				return nil, fmt.Errorf("decode leverageBracket: %w", err)
			}
			return []LeverageBracket{one}, nil
		}
		var list []LeverageBracket
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode leverageBracket: %w", err)
		}
		return list, nil
	}

	var list []LeverageBracket
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/leverageBracket", params, true, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Klines returns candles, oldest first
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]json.Number
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/klines", params, false, &raw); err != nil {
		return nil, err
	}

	out := make([]Kline, 0, len(raw))
	for _, row := range raw {
		// [0] openTime [1] O [2] H [3] L [4] C [5] volume [6] closeTime
		if len(row) < 7 {
			continue
		}
		openTime, _ := row[0].Int64()
		closeTime, _ := row[6].Int64()
		out = append(out, Kline{
			OpenTime:  openTime,
			Open:      numToFloat(row[1]),
			High:      numToFloat(row[2]),
			Low:       numToFloat(row[3]),
			Close:     numToFloat(row[4]),
			Volume:    numToFloat(row[5]),
			CloseTime: closeTime,
		})
	}
	return out, nil
}

// TickerPrice returns the last traded price
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var tp TickerPrice
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/ticker/price", params, false, &tp); err != nil {
		return 0, err
	}
	price := parseFloat(tp.Price)
	if price <= 0 {
		return 0, fmt.Errorf("ticker price %q for %s: %w", tp.Price, symbol, ErrNoResult)
	}
	return price, nil
}

// Account returns balances
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var acc Account
	if err := c.do(ctx, http.MethodGet, "/fapi/v2/account", nil, true, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// AvailableBalance returns the available balance of asset
func (c *Client) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	acc, err := c.Account(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range acc.Assets {
		if strings.EqualFold(a.Asset, asset) {
			return parseFloat(a.AvailableBalance), nil
		}
	}
	return 0, fmt.Errorf("asset %s not in account: %w", asset, ErrNoResult)
}

// PositionRisk returns position rows, all symbols when symbol is empty
func (c *Client) PositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var rows []PositionRisk
	if err := c.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ChangeLeverage sets the initial leverage of symbol
func (c *Client) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	var resp struct {
		Leverage int    `json:"leverage"`
		Symbol   string `json:"symbol"`
	}
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, &resp); err != nil {
		return err
	}
	if resp.Leverage != leverage {
		return fmt.Errorf("leverage for %s set to %d, wanted %d", symbol, resp.Leverage, leverage)
	}
	return nil
}

// OrderRequest describes a market order
type OrderRequest struct {
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// PlaceMarketOrder submits a MARKET order and waits for the RESULT response
func (c *Client) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("order quantity must be positive, got %s", req.Quantity.String())
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", "MARKET")
	params.Set("quantity", req.Quantity.String())
	params.Set("newOrderRespType", "RESULT")
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	var resp OrderResponse
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelAllOpenOrders cancels every open order on symbol
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	return c.do(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, true, &resp)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, out interface{}) error {
	if signed && c.disabled.Load() {
		return ErrCredentialsDisabled
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		status, body, err := c.send(ctx, method, path, params, signed)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warnf("%s %s attempt %d failed: %v", method, path, attempt+1, err)
			c.retried("network")
			if err := c.sleep(ctx, serverErrorBackoff); err != nil {
				return err
			}
			continue
		}

		switch {
		case status == http.StatusOK:
			if out == nil {
				return nil
			}
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			if err := dec.Decode(out); err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			return nil
		case status == http.StatusUnauthorized:
			c.disabled.Store(true)
			c.log.Errorf("%s %s unauthorized, signed calls disabled until credentials are reconfigured", method, path)
			return ErrUnauthorized
		case status == http.StatusUnavailableForLegalReasons:
			c.disabled.Store(true)
			c.log.Errorf("%s %s rejected with 451, signed calls disabled", method, path)
			return ErrRestricted
		case status == http.StatusTooManyRequests:
			wait := time.Duration(1<<attempt) * time.Second
			c.log.Warnf("%s %s rate limited, backing off %s", method, path, wait)
			c.retried("rate_limit")
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		case status >= http.StatusInternalServerError:
			c.log.Warnf("%s %s server error %d", method, path, status)
			c.retried("server_error")
			if err := c.sleep(ctx, serverErrorBackoff); err != nil {
				return err
			}
		default:
			return parseAPIError(status, body)
		}
	}

	return fmt.Errorf("%s %s after %d attempts: %w", method, path, c.maxAttempts, ErrNoResult)
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values, signed bool) (int, []byte, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}

	apiKey, apiSecret := c.credentials()
	rawQuery := q.Encode()
	if signed {
		q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		q.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		rawQuery = q.Encode()
		rawQuery += "&signature=" + Sign(rawQuery, apiSecret)
	}

	fullURL := c.baseURL + path
	if rawQuery != "" {
		fullURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if signed {
		req.Header.Set(apiKeyHeader, apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) retried(reason string) {
	if c.onRetry != nil {
		c.onRetry(reason)
	}
}

// Sign returns the hex HMAC-SHA256 of payload
func Sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func numToFloat(n json.Number) float64 {
	v, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0
	}
	return v
}
