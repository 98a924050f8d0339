package handler

import (
	"context"
	"strconv"

	"perpbot/internal/model"
	"perpbot/internal/util"

	"github.com/gin-gonic/gin"
)

// BotController is the bot lifecycle surface of the engine
type BotController interface {
	CreateBot(ctx context.Context, cfg model.BotConfig) (string, error)
	StopBot(ctx context.Context, botID string) error
	StopAll(ctx context.Context) int
	GetStatus(botID string) (*model.BotStatus, error)
	ListBots() []model.BotStatus
	StopSymbol(ctx context.Context, botID, symbol string) error
	Events(ctx context.Context, botID string, limit int) ([]model.Event, error)
	Trades(ctx context.Context, botID string, limit int) ([]model.TradeRecord, error)
}

type BotHandler struct {
	bots BotController
}

func NewBotHandler(bots BotController) *BotHandler {
	return &BotHandler{bots: bots}
}

// CreateBot handles POST /api/v1/bots
func (h *BotHandler) CreateBot(c *gin.Context) {
	var req model.BotConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.SendValidationError(c, err.Error())
		return
	}

	id, err := h.bots.CreateBot(c.Request.Context(), req.ToConfig())
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendCreated(c, gin.H{"bot_id": id}, "Bot started")
}

// ListBots handles GET /api/v1/bots
func (h *BotHandler) ListBots(c *gin.Context) {
	bots := h.bots.ListBots()
	util.SendSuccess(c, gin.H{
		"bots":  bots,
		"count": len(bots),
	})
}

// GetBot handles GET /api/v1/bots/:id
func (h *BotHandler) GetBot(c *gin.Context) {
	status, err := h.bots.GetStatus(c.Param("id"))
	if err != nil {
		util.SendError(c, err)
		return
	}
	util.SendSuccess(c, status)
}

// StopBot handles DELETE /api/v1/bots/:id
func (h *BotHandler) StopBot(c *gin.Context) {
	id := c.Param("id")
	if err := h.bots.StopBot(c.Request.Context(), id); err != nil {
		util.SendError(c, err)
		return
	}
	util.SendSuccessWithMessage(c, gin.H{"bot_id": id}, "Bot stopped")
}

// StopAll handles POST /api/v1/bots/stop-all
func (h *BotHandler) StopAll(c *gin.Context) {
	n := h.bots.StopAll(c.Request.Context())
	util.SendSuccessWithMessage(c, gin.H{"stopped": n}, "All bots stopped")
}

// StopSymbol handles DELETE /api/v1/bots/:id/symbols/:symbol
func (h *BotHandler) StopSymbol(c *gin.Context) {
	id, symbol := c.Param("id"), c.Param("symbol")
	if err := h.bots.StopSymbol(c.Request.Context(), id, symbol); err != nil {
		util.SendError(c, err)
		return
	}
	util.SendSuccessWithMessage(c, gin.H{"bot_id": id, "symbol": symbol}, "Symbol released")
}

// GetEvents handles GET /api/v1/bots/:id/events
func (h *BotHandler) GetEvents(c *gin.Context) {
	events, err := h.bots.Events(c.Request.Context(), c.Param("id"), queryLimit(c))
	if err != nil {
		util.SendError(c, err)
		return
	}
	util.SendSuccess(c, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// GetTrades handles GET /api/v1/bots/:id/trades
func (h *BotHandler) GetTrades(c *gin.Context) {
	trades, err := h.bots.Trades(c.Request.Context(), c.Param("id"), queryLimit(c))
	if err != nil {
		util.SendError(c, err)
		return
	}
	util.SendSuccess(c, gin.H{
		"trades": trades,
		"stats":  model.SummarizeTrades(trades),
	})
}

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return limit
}

// Register mounts the bot routes on group
func (h *BotHandler) Register(group *gin.RouterGroup) {
	bots := group.Group("/bots")
	bots.POST("", h.CreateBot)
	bots.GET("", h.ListBots)
	bots.POST("/stop-all", h.StopAll)
	bots.GET("/:id", h.GetBot)
	bots.DELETE("/:id", h.StopBot)
	bots.GET("/:id/events", h.GetEvents)
	bots.GET("/:id/trades", h.GetTrades)
	bots.DELETE("/:id/symbols/:symbol", h.StopSymbol)
}
