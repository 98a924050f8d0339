package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"perpbot/internal/model"
	"perpbot/internal/util"
	"perpbot/pkg/binance"
)

type staticEvents []model.Event

func (s staticEvents) List(ctx context.Context, botID string, limit int) ([]model.Event, error) {
	var out []model.Event
	for _, ev := range s {
		if ev.BotID == botID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type balanceErrExchange struct {
	*fakeExchange
	err error
}

func (b balanceErrExchange) AvailableBalance(ctx context.Context) (float64, error) {
	return 0, b.err
}

func newTestManager(client TradeClient, maxBots int) *BotManager {
	deps := BotDeps{
		Client:   client,
		Registry: NewCoinRegistry(),
		Selector: &poolSelector{},
		Signals:  newFakeSignalSource(),
		Notifier: &recordingNotifier{},
		Timings:  testTimings(),
	}
	events := staticEvents{{Type: model.EventBotStarted, BotID: "known"}}
	return NewBotManager(deps, events, nil, maxBots)
}

func appCode(t *testing.T, err error) (int, string) {
	t.Helper()
	appErr := util.GetAppError(err)
	if appErr == nil {
		t.Fatalf("error %v is not an AppError", err)
	}
	return appErr.StatusCode, appErr.Code
}

func stopCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCreateBotValidation(t *testing.T) {
	m := newTestManager(newFakeExchange("ETHUSDC"), 5)

	_, err := m.CreateBot(context.Background(), model.BotConfig{Leverage: 0, Percent: 10, TakeProfit: 5})
	if status, code := appCode(t, err); status != http.StatusBadRequest || code != util.ErrCodeValidation {
		t.Fatalf("got %d %s", status, code)
	}

	_, err = m.CreateBot(context.Background(), model.BotConfig{Symbol: "NOPEUSDC", Leverage: 5, Percent: 10, TakeProfit: 5})
	if _, code := appCode(t, err); code != util.ErrCodeValidation {
		t.Fatalf("unknown fixed symbol: code %s", code)
	}

	_, err = m.CreateBot(context.Background(), model.BotConfig{Symbol: "ETHUSDC", Leverage: 126, Percent: 10, TakeProfit: 5})
	if _, code := appCode(t, err); code != util.ErrCodeValidation {
		t.Fatalf("leverage above symbol max: code %s", code)
	}
	if len(m.ListBots()) != 0 {
		t.Fatal("rejected configs created bots")
	}
}

func TestCreateBotBalanceChecks(t *testing.T) {
	ex := newFakeExchange("ETHUSDC")
	ex.balance = 0
	m := newTestManager(ex, 5)
	cfg := model.BotConfig{Leverage: 5, Percent: 10, TakeProfit: 5}

	_, err := m.CreateBot(context.Background(), cfg)
	if status, code := appCode(t, err); status != http.StatusServiceUnavailable || code != util.ErrCodeBalanceUnavailable {
		t.Fatalf("zero balance: got %d %s", status, code)
	}

	m = newTestManager(balanceErrExchange{ex, errors.New("timeout")}, 5)
	_, err = m.CreateBot(context.Background(), cfg)
	if _, code := appCode(t, err); code != util.ErrCodeBalanceUnavailable {
		t.Fatalf("balance error: code %s", code)
	}

	m = newTestManager(balanceErrExchange{ex, binance.ErrUnauthorized}, 5)
	_, err = m.CreateBot(context.Background(), cfg)
	if status, code := appCode(t, err); status != http.StatusBadGateway || code != util.ErrCodeExchangeAuth {
		t.Fatalf("auth error: got %d %s", status, code)
	}
}

func TestBotLifecycleThroughManager(t *testing.T) {
	m := newTestManager(newFakeExchange("ETHUSDC"), 5)
	ctx := stopCtx(t)

	id, err := m.CreateBot(ctx, model.BotConfig{Leverage: 5, Percent: 10, TakeProfit: 5, MaxCoins: 3})
	if err != nil {
		t.Fatalf("CreateBot: %v", err)
	}

	status, err := m.GetStatus(id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if !status.Running || status.Mode != model.BotModeAuto || status.Config.MaxCoins != 3 || status.Strategy != model.StrategyRSIVolume {
		t.Fatalf("status = %+v", status)
	}
	if bots := m.ListBots(); len(bots) != 1 || bots[0].BotID != id {
		t.Fatalf("ListBots = %+v", bots)
	}

	if err := m.StopBot(ctx, id); err != nil {
		t.Fatalf("StopBot: %v", err)
	}
	if _, err := m.GetStatus(id); err == nil {
		t.Fatal("stopped bot still reported")
	} else if status, code := appCode(t, err); status != http.StatusNotFound || code != util.ErrCodeBotNotFound {
		t.Fatalf("got %d %s", status, code)
	}
	if err := m.StopBot(ctx, id); err == nil {
		t.Fatal("second StopBot succeeded")
	}
}

func TestBotLimit(t *testing.T) {
	m := newTestManager(newFakeExchange("ETHUSDC"), 1)
	ctx := stopCtx(t)
	defer m.StopAll(ctx)

	cfg := model.BotConfig{Leverage: 5, Percent: 10, TakeProfit: 5}
	if _, err := m.CreateBot(ctx, cfg); err != nil {
		t.Fatalf("first bot: %v", err)
	}
	_, err := m.CreateBot(ctx, cfg)
	if status, code := appCode(t, err); status != http.StatusConflict || code != util.ErrCodeBotLimit {
		t.Fatalf("got %d %s", status, code)
	}
}

func TestStopSymbolAndEvents(t *testing.T) {
	m := newTestManager(newFakeExchange("ETHUSDC"), 5)
	ctx := stopCtx(t)

	if err := m.StopSymbol(ctx, "missing", "ETHUSDC"); err == nil {
		t.Fatal("unknown bot accepted")
	}

	id, err := m.CreateBot(ctx, model.BotConfig{Leverage: 5, Percent: 10, TakeProfit: 5})
	if err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	err = m.StopSymbol(ctx, id, "dogeusdc")
	if status, code := appCode(t, err); status != http.StatusNotFound || code != util.ErrCodeSymbolNotFound {
		t.Fatalf("got %d %s", status, code)
	}

	events, err := m.Events(ctx, "known", 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, %v", events, err)
	}

	if n := m.StopAll(ctx); n != 1 {
		t.Fatalf("StopAll stopped %d bots", n)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestCreateBotRejectsClaimedFixedSymbol(t *testing.T) {
	m := newTestManager(newFakeExchange("ETHUSDC"), 5)
	m.deps.Registry.Register("ETHUSDC")

	_, err := m.CreateBot(context.Background(), model.BotConfig{Symbol: "ethusdc", Leverage: 5, Percent: 10, TakeProfit: 5})
	if status, code := appCode(t, err); status != http.StatusConflict || code != util.ErrCodeConflict {
		t.Fatalf("got %d %s", status, code)
	}
	if n := len(m.ListBots()); n != 0 {
		t.Fatalf("%d bots running after conflict", n)
	}
}
