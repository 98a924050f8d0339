package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perpbot/internal/config"
	"perpbot/internal/handler"
	"perpbot/internal/middleware"
	"perpbot/internal/repository"
	"perpbot/internal/service"
	"perpbot/internal/service/market"
	"perpbot/pkg/binance"
	"perpbot/pkg/logger"
	"perpbot/pkg/redis"
	"perpbot/pkg/telegram"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// .env is optional outside development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log := logger.GetLogger()

	log.Info("Starting perpetual futures engine...")
	log.Infof("Environment: %s, margin asset: %s", cfg.Server.Env, cfg.Exchange.MarginAsset)

	log.Info("Connecting to Redis...")
	redisClient, err := redis.New(redis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal("Failed to connect to Redis", err)
	}
	defer redisClient.Close()
	log.Info("✓ Redis connected")

	exchange := binance.NewClient(binance.Config{
		BaseURL:           cfg.Exchange.RESTURL,
		APIKey:            cfg.Exchange.APIKey,
		APISecret:         cfg.Exchange.APISecret,
		RecvWindow:        cfg.Exchange.RecvWindow,
		Timeout:           cfg.Exchange.RequestTimeout,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Burst:             cfg.Exchange.RequestBurst,
	})

	// Repositories
	marketRepo := repository.NewMarketRepository(redisClient)
	eventRepo := repository.NewEventRepository(redisClient, cfg.Notify.JournalSize)
	tradeRepo := repository.NewTradeRepository(redisClient, cfg.Engine.TradeHistorySize)

	// Market data
	tradeClient := service.NewLiveTradeClient(exchange, marketRepo, service.LiveTradeClientConfig{
		MarginAsset:   cfg.Exchange.MarginAsset,
		KlineInterval: cfg.Engine.KlineInterval,
		KlineLimit:    cfg.Engine.KlineLimit,
		MetadataTTL:   cfg.Engine.MetadataTTL,
	})
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if symbols, err := tradeClient.TradableSymbols(warmCtx); err != nil {
		log.Warnf("Symbol metadata not loaded yet: %v", err)
	} else {
		log.Infof("✓ %d tradable %s perpetuals", len(symbols), cfg.Exchange.MarginAsset)
	}
	warmCancel()

	signals := market.NewSignalEngine(tradeClient, cfg.Engine.KlineLimit)
	selector := market.NewCoinSelector(tradeClient, signals, cfg.Engine.ScanSize)
	streams := market.NewPriceStreamManager(
		market.BinanceDialer(cfg.Exchange.StreamURL),
		cfg.Engine.StreamWorkers,
		cfg.Engine.StreamQueueSize,
		cfg.Engine.StreamReconnectDelay,
	)

	// Notifications
	tg := telegram.NewClient(cfg.Notify.TelegramAPIURL, cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
	if !tg.Enabled() {
		log.Info("Telegram notifications disabled")
	}
	notifications := service.NewNotificationService(cfg.Notify.QueueSize, eventRepo, redisClient, tg)

	// Dashboard feed
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	wsHub := service.NewWSHub()
	go wsHub.Run(hubCtx)
	go wsHub.StartPubSubListener(hubCtx, redisClient)

	// Bots
	botManager := service.NewBotManager(service.BotDeps{
		Client:   tradeClient,
		Registry: service.NewCoinRegistry(),
		Streams:  streams,
		Selector: selector,
		Signals:  signals,
		Notifier: notifications,
		Trades:   tradeRepo,
		Timings:  service.DefaultTimings(),
	}, eventRepo, tradeRepo, cfg.Engine.MaxBots)

	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "Redis connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":               "healthy",
			"redis":                "connected",
			"exchange_credentials": !exchange.Disabled(),
			"bots":                 len(botManager.ListBots()),
			"streams":              len(streams.Symbols()),
			"dropped_events":       notifications.Dropped(),
			"ws_clients":           wsHub.ClientCount(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(redisClient, cfg.RateLimit.RequestsPerMinute))
	handler.NewBotHandler(botManager).Register(v1)
	handler.NewMarketHandler(tradeClient, signals).Register(v1)
	v1.GET("/ws", wsHub.ServeWS)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Server starting on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", err)
		}
	}()

	log.Info("✓ Engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", err)
	}
	// closes every open position
	if err := botManager.Shutdown(ctx); err != nil {
		log.Error("Bots did not stop cleanly", err)
	}
	streams.Stop()
	notifications.Stop()
	hubCancel()

	log.Info("Engine exited")
}
