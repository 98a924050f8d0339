package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")
	t.Setenv("MARGIN_ASSET", "usdc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Exchange.MarginAsset != "USDC" {
		t.Fatalf("margin asset = %q", cfg.Exchange.MarginAsset)
	}
	if cfg.Engine.ScanSize != 50 || cfg.Engine.KlineLimit != 15 || cfg.Engine.StreamWorkers != 10 {
		t.Fatalf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Engine.StreamReconnectDelay != 5*time.Second {
		t.Fatalf("reconnect delay = %v", cfg.Engine.StreamReconnectDelay)
	}
	if cfg.Notify.TelegramEnabled() {
		t.Fatal("telegram should be disabled without token")
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")
	t.Setenv("ENGINE_STREAM_RECONNECT_DELAY", "250ms")
	t.Setenv("BINANCE_REQUESTS_PER_SECOND", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.StreamReconnectDelay != 250*time.Millisecond {
		t.Fatalf("reconnect delay = %v", cfg.Engine.StreamReconnectDelay)
	}
	if cfg.Exchange.RequestsPerSecond != 2.5 {
		t.Fatalf("rps = %v", cfg.Exchange.RequestsPerSecond)
	}
}
