package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Exchange  ExchangeConfig
	Engine    EngineConfig
	Notify    NotifyConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host string
	Port string
	Env  string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ExchangeConfig holds futures exchange access settings
type ExchangeConfig struct {
	RESTURL           string
	StreamURL         string
	APIKey            string
	APISecret         string
	MarginAsset       string
	RecvWindow        int64
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	RequestBurst      int
}

// EngineConfig holds trading engine tunables
type EngineConfig struct {
	ScanSize             int
	KlineInterval        string
	KlineLimit           int
	StreamWorkers        int
	StreamQueueSize      int
	StreamReconnectDelay time.Duration
	MetadataTTL          time.Duration
	MaxBots              int
	TradeHistorySize     int
}

// NotifyConfig holds notification sink configuration
type NotifyConfig struct {
	TelegramAPIURL string
	TelegramToken  string
	TelegramChatID string
	QueueSize      int
	JournalSize    int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Redis: LoadRedis(),
		Exchange: ExchangeConfig{
			RESTURL:           getEnv("BINANCE_REST_URL", "https://fapi.binance.com"),
			StreamURL:         getEnv("BINANCE_STREAM_URL", "wss://fstream.binance.com/ws"),
			APIKey:            getEnv("BINANCE_API_KEY", ""),
			APISecret:         getEnv("BINANCE_API_SECRET", ""),
			MarginAsset:       strings.ToUpper(getEnv("MARGIN_ASSET", "USDC")),
			RecvWindow:        int64(getEnvAsInt("BINANCE_RECV_WINDOW", 5000)),
			RequestTimeout:    getEnvAsDuration("BINANCE_REQUEST_TIMEOUT", 10*time.Second),
			RequestsPerSecond: getEnvAsFloat("BINANCE_REQUESTS_PER_SECOND", 10),
			RequestBurst:      getEnvAsInt("BINANCE_REQUEST_BURST", 20),
		},
		Engine: EngineConfig{
			ScanSize:             getEnvAsInt("ENGINE_SCAN_SIZE", 50),
			KlineInterval:        getEnv("ENGINE_KLINE_INTERVAL", "5m"),
			KlineLimit:           getEnvAsInt("ENGINE_KLINE_LIMIT", 15),
			StreamWorkers:        getEnvAsInt("ENGINE_STREAM_WORKERS", 10),
			StreamQueueSize:      getEnvAsInt("ENGINE_STREAM_QUEUE_SIZE", 1024),
			StreamReconnectDelay: getEnvAsDuration("ENGINE_STREAM_RECONNECT_DELAY", 5*time.Second),
			MetadataTTL:          getEnvAsDuration("ENGINE_METADATA_TTL", 10*time.Minute),
			MaxBots:              getEnvAsInt("ENGINE_MAX_BOTS", 20),
			TradeHistorySize:     getEnvAsInt("ENGINE_TRADE_HISTORY_SIZE", 500),
		},
		Notify: NotifyConfig{
			TelegramAPIURL: getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
			QueueSize:      getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			JournalSize:    getEnvAsInt("NOTIFY_JOURNAL_SIZE", 200),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRedis reads only the Redis settings, for tools that need no exchange access
func LoadRedis() RedisConfig {
	return RedisConfig{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// Validate checks required and numeric fields
func (c *Config) Validate() error {
	if c.Exchange.APIKey == "" {
		return fmt.Errorf("BINANCE_API_KEY is required")
	}
	if c.Exchange.APISecret == "" {
		return fmt.Errorf("BINANCE_API_SECRET is required")
	}
	if c.Engine.ScanSize <= 0 {
		return fmt.Errorf("ENGINE_SCAN_SIZE must be positive")
	}
	if c.Engine.KlineLimit < 3 {
		return fmt.Errorf("ENGINE_KLINE_LIMIT must be at least 3")
	}
	if c.Engine.StreamWorkers <= 0 {
		return fmt.Errorf("ENGINE_STREAM_WORKERS must be positive")
	}
	if c.Engine.MaxBots <= 0 {
		return fmt.Errorf("ENGINE_MAX_BOTS must be positive")
	}
	return nil
}

// Address returns the full server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsProduction returns true if running in production mode
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

// TelegramEnabled reports whether a Telegram destination is configured
func (c *NotifyConfig) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// Helper functions

func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
