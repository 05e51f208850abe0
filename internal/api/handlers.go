package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"trade-coordinator/internal/admission"
	"trade-coordinator/internal/database"
	"trade-coordinator/internal/trade"
)

// ------------------------------------------------------------
// Coordinator and governor
// ------------------------------------------------------------

func (s *Server) handleCoordinatorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Status())
}

func (s *Server) handleRecommendations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"recommendations": s.coord.Recommendations()})
}

func (s *Server) handleGovernorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.gov.Status())
}

// ------------------------------------------------------------
// Bot registration
// ------------------------------------------------------------

type registerBotRequest struct {
	BotID        string `json:"bot_id" binding:"required"`
	UserID       string `json:"user_id" binding:"required"`
	CredentialID string `json:"credential_id" binding:"required"`
}

// handleRegisterBot validates credential capacity, records the bot, and
// attaches it to its credential group.
func (s *Server) handleRegisterBot(c *gin.Context) {
	var req registerBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	validation, err := s.validator.ValidateBotCreation(c.Request.Context(), req.CredentialID, req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !validation.Allowed {
		c.JSON(http.StatusConflict, validation)
		return
	}

	if s.registry != nil {
		rec := &database.BotRecord{
			BotID:          req.BotID,
			UserID:         req.UserID,
			CredentialID:   req.CredentialID,
			TradingEnabled: true,
			RegisteredAt:   time.Now().UTC(),
		}
		if err := s.registry.RegisterBot(c.Request.Context(), rec); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	s.coord.Register(req.BotID, req.CredentialID)
	c.JSON(http.StatusOK, gin.H{"registered": true, "validation": validation})
}

type unregisterBotRequest struct {
	BotID        string `json:"bot_id" binding:"required"`
	CredentialID string `json:"credential_id" binding:"required"`
}

func (s *Server) handleUnregisterBot(c *gin.Context) {
	var req unregisterBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.coord.Unregister(req.BotID, req.CredentialID)

	if s.registry != nil {
		if err := s.registry.UnregisterBot(c.Request.Context(), req.BotID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"unregistered": true})
}

// ------------------------------------------------------------
// Capacity
// ------------------------------------------------------------

func (s *Server) handleValidateCapacity(c *gin.Context) {
	credentialID := c.Query("credential_id")
	userID := c.Query("user_id")
	if credentialID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credential_id is required"})
		return
	}

	validation, err := s.validator.ValidateBotCreation(c.Request.Context(), credentialID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, validation)
}

func (s *Server) handleUsageAnalysis(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	usages, err := s.validator.UsageAnalysis(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": usages})
}

func (s *Server) handleSuggestAlternatives(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	suggestion, err := s.validator.SuggestAlternatives(c.Request.Context(), userID, c.Query("exclude"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, suggestion)
}

// ------------------------------------------------------------
// Trades
// ------------------------------------------------------------

type createTradeRequest struct {
	BotID      string  `json:"bot_id" binding:"required"`
	UserID     string  `json:"user_id"`
	Symbol     string  `json:"symbol" binding:"required"`
	Direction  string  `json:"direction" binding:"required"`
	OrderType  string  `json:"order_type"`
	Quantity   float64 `json:"quantity" binding:"required"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

func (s *Server) handleCreateTrade(c *gin.Context) {
	var req createTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := s.trades.Create(c.Request.Context(), trade.Spec{
		BotID:      req.BotID,
		UserID:     req.UserID,
		Symbol:     req.Symbol,
		Direction:  trade.Direction(req.Direction),
		OrderType:  req.OrderType,
		Quantity:   req.Quantity,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, t)
}

type admissionCheckRequest struct {
	BotID              string  `json:"bot_id" binding:"required"`
	Symbol             string  `json:"symbol" binding:"required"`
	Direction          string  `json:"direction" binding:"required"`
	Quantity           float64 `json:"quantity"`
	Price              float64 `json:"price"`
	TimeframeInterval  string  `json:"timeframe_interval"` // e.g. "5m", "1h"
	AccountBalance     float64 `json:"account_balance"`
}

func (s *Server) handleAdmissionCheck(c *gin.Context) {
	var req admissionCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var interval time.Duration
	if req.TimeframeInterval != "" {
		parsed, err := time.ParseDuration(req.TimeframeInterval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeframe_interval"})
			return
		}
		interval = parsed
	}

	decision, err := s.checker.Check(c.Request.Context(), admission.Request{
		BotID:             req.BotID,
		Symbol:            req.Symbol,
		Direction:         trade.Direction(req.Direction),
		Quantity:          req.Quantity,
		Price:             req.Price,
		TimeframeInterval: interval,
		AccountBalance:    req.AccountBalance,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "decision": decision})
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) handleGetTrade(c *gin.Context) {
	t, err := s.trades.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.tradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type executeTradeRequest struct {
	EntryPrice       float64 `json:"entry_price" binding:"required"`
	BrokerOrderID    string  `json:"broker_order_id"`
	BrokerPositionID string  `json:"broker_position_id"`
}

func (s *Server) handleExecuteTrade(c *gin.Context) {
	var req executeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := s.trades.Execute(c.Request.Context(), c.Param("id"), trade.Fill{
		EntryPrice:       req.EntryPrice,
		BrokerOrderID:    req.BrokerOrderID,
		BrokerPositionID: req.BrokerPositionID,
	})
	if err != nil {
		s.tradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type closeTradeRequest struct {
	ExitPrice  float64 `json:"exit_price" binding:"required"`
	ExitReason string  `json:"exit_reason"`
	Fees       float64 `json:"fees"`
}

func (s *Server) handleCloseTrade(c *gin.Context) {
	var req closeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := s.trades.Close(c.Request.Context(), c.Param("id"), req.ExitPrice, req.ExitReason, req.Fees)
	if err != nil {
		s.tradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type cancelTradeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelTrade(c *gin.Context) {
	// Reason is optional; an empty body is fine.
	var req cancelTradeRequest
	_ = c.ShouldBindJSON(&req)

	t, err := s.trades.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.tradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type updatePriceRequest struct {
	Price float64 `json:"price" binding:"required"`
}

func (s *Server) handleUpdatePrice(c *gin.Context) {
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.trades.UpdatePrice(c.Request.Context(), c.Param("id"), req.Price); err != nil {
		s.tradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (s *Server) handleActiveTrades(c *gin.Context) {
	botID := c.Query("bot_id")
	if botID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bot_id is required"})
		return
	}

	trades, err := s.trades.ActiveTrades(c.Request.Context(), botID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleTradeHistory(c *gin.Context) {
	botID := c.Query("bot_id")
	if botID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bot_id is required"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	trades, err := s.trades.History(c.Request.Context(), botID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleBotPerformance(c *gin.Context) {
	perf, err := s.trades.BotPerformance(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, perf)
}

func (s *Server) handleDailySummaries(c *gin.Context) {
	limit := 30
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	summaries, err := s.trades.DailySummaries(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summaries": summaries})
}

// tradeError maps trade-layer failures to HTTP statuses: missing trades
// are 404, state violations are 409, everything else is 400.
func (s *Server) tradeError(c *gin.Context, err error) {
	var stateErr *trade.StateError
	switch {
	case errors.Is(err, trade.ErrTradeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": string(stateErr.Status)})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
