package service

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"perpbot/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestWSHubFiltersByBot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWSHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.ServeWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?bot_id=bot-a"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(model.Event{Type: model.EventPositionOpened, BotID: "bot-b", Symbol: "BTCUSDC"})
	hub.Broadcast(model.Event{Type: model.EventPositionOpened, BotID: "bot-a", Symbol: "ETHUSDC"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev model.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.BotID != "bot-a" || ev.Symbol != "ETHUSDC" {
		t.Fatalf("received %+v", ev)
	}
}
