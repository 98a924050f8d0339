package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"perpbot/internal/metrics"
	"perpbot/pkg/binance"
	"perpbot/pkg/logger"
)

// TickHandler receives a trade price for a subscribed symbol
type TickHandler func(symbol string, price float64)

// StreamConn is a single trade stream connection
type StreamConn interface {
	Read() (float64, error)
	Close() error
}

// DialFunc opens the trade stream of a symbol
type DialFunc func(ctx context.Context, symbol string) (StreamConn, error)

// BinanceDialer dials futures trade streams under baseURL
func BinanceDialer(baseURL string) DialFunc {
	return func(ctx context.Context, symbol string) (StreamConn, error) {
		return binance.DialTradeStream(ctx, baseURL, symbol)
	}
}

type subscription struct {
	symbol  string
	handler TickHandler
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	conn   StreamConn
	closed bool
}

// setConn stores the live connection, closing it at once if the subscription was removed
func (s *subscription) setConn(conn StreamConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = conn.Close()
		return false
	}
	s.conn = conn
	return true
}

func (s *subscription) shutdown() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// PriceStreamManager keeps one trade stream per symbol and fans ticks out
// to handlers through a bounded worker pool
type PriceStreamManager struct {
	dial           DialFunc
	reconnectDelay time.Duration
	log            *logger.Logger

	jobs      chan func()
	workersWG sync.WaitGroup
	streamsWG sync.WaitGroup

	subs    map[string]*subscription
	stopped bool
	mu      sync.Mutex
}

// NewPriceStreamManager starts workers goroutines sharing a queue of queueSize ticks
func NewPriceStreamManager(dial DialFunc, workers, queueSize int, reconnectDelay time.Duration) *PriceStreamManager {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	m := &PriceStreamManager{
		dial:           dial,
		reconnectDelay: reconnectDelay,
		log:            logger.GetLogger().WithField("component", "price_stream"),
		jobs:           make(chan func(), queueSize),
		subs:           make(map[string]*subscription),
	}
	for i := 0; i < workers; i++ {
		m.workersWG.Add(1)
		go m.worker()
	}
	return m
}

// AddSymbol opens a stream for symbol. It returns false when already subscribed or stopped.
func (m *PriceStreamManager) AddSymbol(symbol string, handler TickHandler) bool {
	symbol = strings.ToUpper(symbol)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return false
	}
	if _, ok := m.subs[symbol]; ok {
		m.log.Debugf("PriceStream: %s already subscribed", symbol)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{symbol: symbol, handler: handler, ctx: ctx, cancel: cancel}
	m.subs[symbol] = sub

	m.streamsWG.Add(1)
	go m.run(sub)

	m.log.Infof("PriceStream: subscribed %s", symbol)
	return true
}

// RemoveSymbol tears down the stream of symbol. The read loop observes the
// cancellation and never reconnects afterwards.
func (m *PriceStreamManager) RemoveSymbol(symbol string) bool {
	symbol = strings.ToUpper(symbol)

	m.mu.Lock()
	sub, ok := m.subs[symbol]
	if ok {
		delete(m.subs, symbol)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	sub.shutdown()
	m.log.Infof("PriceStream: unsubscribed %s", symbol)
	return true
}

// IsSubscribed reports whether symbol has a stream
func (m *PriceStreamManager) IsSubscribed(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[strings.ToUpper(symbol)]
	return ok
}

// Symbols returns the subscribed symbols
func (m *PriceStreamManager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for s := range m.subs {
		out = append(out, s)
	}
	return out
}

// Stop closes every stream and drains the worker pool
func (m *PriceStreamManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	subs := m.subs
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	m.streamsWG.Wait()

	close(m.jobs)
	m.workersWG.Wait()
	m.log.Info("PriceStream: stopped")
}

func (m *PriceStreamManager) run(sub *subscription) {
	defer m.streamsWG.Done()

	for {
		if sub.ctx.Err() != nil {
			return
		}

		conn, err := m.dial(sub.ctx, sub.symbol)
		if err == nil {
			if !sub.setConn(conn) {
				return
			}
			err = m.readLoop(sub, conn)
			_ = conn.Close()
		}

		if sub.ctx.Err() != nil {
			return
		}
		m.log.Warnf("PriceStream: %s stream lost: %v, reconnecting in %s", sub.symbol, err, m.reconnectDelay)
		metrics.StreamReconnects.Inc()

		timer := time.NewTimer(m.reconnectDelay)
		select {
		case <-sub.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *PriceStreamManager) readLoop(sub *subscription, conn StreamConn) error {
	for {
		price, err := conn.Read()
		if err != nil {
			return err
		}
		if sub.ctx.Err() != nil {
			return sub.ctx.Err()
		}
		m.dispatch(sub, price)
	}
}

// dispatch never blocks the read loop; ticks are dropped while the pool is saturated
func (m *PriceStreamManager) dispatch(sub *subscription, price float64) {
	job := func() {
		if sub.ctx.Err() != nil {
			return
		}
		sub.handler(sub.symbol, price)
	}
	select {
	case m.jobs <- job:
	default:
		m.log.Debugf("PriceStream: queue full, dropping %s tick", sub.symbol)
	}
}

func (m *PriceStreamManager) worker() {
	defer m.workersWG.Done()
	for job := range m.jobs {
		m.runJob(job)
	}
}

func (m *PriceStreamManager) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("PriceStream: tick handler panic: %v", r)
		}
	}()
	job()
}
