package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeConn struct {
	prices chan float64
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{prices: make(chan float64, 8), closed: make(chan struct{})}
}

func (c *fakeConn) Read() (float64, error) {
	select {
	case p, ok := <-c.prices:
		if !ok {
			return 0, errors.New("eof")
		}
		return p, nil
	case <-c.closed:
		return 0, errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPriceStreamDeliversTicks(t *testing.T) {
	conn := newFakeConn()
	dial := func(ctx context.Context, symbol string) (StreamConn, error) { return conn, nil }

	m := NewPriceStreamManager(dial, 2, 16, time.Millisecond)
	defer m.Stop()

	got := make(chan float64, 4)
	if !m.AddSymbol("ethusdt", func(sym string, p float64) {
		if sym != "ETHUSDT" {
			t.Errorf("symbol = %q", sym)
		}
		got <- p
	}) {
		t.Fatal("first AddSymbol returned false")
	}
	if m.AddSymbol("ETHUSDT", func(string, float64) {}) {
		t.Fatal("duplicate AddSymbol returned true")
	}

	conn.prices <- 3100.25
	select {
	case p := <-got:
		if p != 3100.25 {
			t.Fatalf("price = %v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}
}

func TestPriceStreamReconnectsUntilRemoved(t *testing.T) {
	var dials int32
	dial := func(ctx context.Context, symbol string) (StreamConn, error) {
		n := atomic.AddInt32(&dials, 1)
		if n == 1 {
			return nil, errors.New("refused")
		}
		c := newFakeConn()
		close(c.prices)
		return c, nil
	}

	m := NewPriceStreamManager(dial, 1, 4, 5*time.Millisecond)
	defer m.Stop()

	m.AddSymbol("BTCUSDT", func(string, float64) {})
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&dials) >= 3 })

	if !m.RemoveSymbol("BTCUSDT") {
		t.Fatal("RemoveSymbol returned false")
	}
	if m.IsSubscribed("BTCUSDT") {
		t.Fatal("still subscribed after removal")
	}

	// one in-flight dial may still land; after that the count must freeze
	time.Sleep(30 * time.Millisecond)
	settled := atomic.LoadInt32(&dials)
	time.Sleep(50 * time.Millisecond)
	if after := atomic.LoadInt32(&dials); after != settled {
		t.Fatalf("reconnected after removal: %d -> %d", settled, after)
	}
}

func TestPriceStreamRemoveThenAddAgain(t *testing.T) {
	dial := func(ctx context.Context, symbol string) (StreamConn, error) { return newFakeConn(), nil }
	m := NewPriceStreamManager(dial, 1, 4, time.Millisecond)
	defer m.Stop()

	m.AddSymbol("SOLUSDT", func(string, float64) {})
	m.RemoveSymbol("SOLUSDT")
	if !m.AddSymbol("SOLUSDT", func(string, float64) {}) {
		t.Fatal("re-add after removal failed")
	}
	if got := m.Symbols(); len(got) != 1 || got[0] != "SOLUSDT" {
		t.Fatalf("symbols = %v", got)
	}
	if m.RemoveSymbol("DOGEUSDT") {
		t.Fatal("removing unknown symbol returned true")
	}
}

func TestPriceStreamStopRejectsNewSymbols(t *testing.T) {
	dial := func(ctx context.Context, symbol string) (StreamConn, error) { return newFakeConn(), nil }
	m := NewPriceStreamManager(dial, 1, 4, time.Millisecond)
	m.AddSymbol("BTCUSDT", func(string, float64) {})
	m.Stop()
	m.Stop()

	if m.AddSymbol("ETHUSDT", func(string, float64) {}) {
		t.Fatal("AddSymbol after Stop returned true")
	}
	if len(m.Symbols()) != 0 {
		t.Fatalf("symbols after stop = %v", m.Symbols())
	}
}

func TestBinanceDialerReadsTradePrices(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/btcusdt@trade" {
			t.Errorf("path = %s", r.URL.Path)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"trade","s":"BTCUSDT","p":"64000.50","q":"0.010"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := NewPriceStreamManager(BinanceDialer(wsURL), 2, 16, 10*time.Millisecond)
	defer m.Stop()

	got := make(chan float64, 4)
	m.AddSymbol("BTCUSDT", func(sym string, p float64) {
		select {
		case got <- p:
		default:
		}
	})

	select {
	case p := <-got:
		if p != 64000.5 {
			t.Fatalf("price = %v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no trade received")
	}
}
