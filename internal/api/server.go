package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"trade-coordinator/internal/admission"
	"trade-coordinator/internal/capacity"
	"trade-coordinator/internal/coordinator"
	"trade-coordinator/internal/database"
	"trade-coordinator/internal/events"
	"trade-coordinator/internal/governor"
	"trade-coordinator/internal/trade"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Production     bool     `json:"production"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// BotRegistrar is the slice of bot bookkeeping the API mutates on
// register/unregister. The database registry implements it; tests stub it.
type BotRegistrar interface {
	RegisterBot(ctx context.Context, rec *database.BotRecord) error
	UnregisterBot(ctx context.Context, botID string) error
}

// Server is the HTTP status and control surface.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        ServerConfig
	logger     zerolog.Logger

	coord     *coordinator.Coordinator
	gov       *governor.Governor
	trades    *trade.Manager
	checker   *admission.Checker
	validator *capacity.Validator
	registry  BotRegistrar
	hub       *WSHub
}

// NewServer wires the HTTP surface over the core services. registry may
// be nil when no database is configured.
func NewServer(
	cfg ServerConfig,
	coord *coordinator.Coordinator,
	gov *governor.Governor,
	trades *trade.Manager,
	checker *admission.Checker,
	validator *capacity.Validator,
	registry BotRegistrar,
	bus *events.Bus,
	logger zerolog.Logger,
) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		cfg:       cfg,
		logger:    logger.With().Str("component", "APIServer").Logger(),
		coord:     coord,
		gov:       gov,
		trades:    trades,
		checker:   checker,
		validator: validator,
		registry:  registry,
		hub:       NewWSHub(logger),
	}

	// Every published event is mirrored to websocket subscribers.
	if bus != nil {
		bus.SubscribeAll(s.hub.BroadcastEvent)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/coordinator/status", s.handleCoordinatorStatus)
		api.GET("/coordinator/recommendations", s.handleRecommendations)
		api.GET("/governor/status", s.handleGovernorStatus)

		bots := api.Group("/bots")
		{
			bots.POST("/register", s.handleRegisterBot)
			bots.POST("/unregister", s.handleUnregisterBot)
			bots.GET("/:id/performance", s.handleBotPerformance)
			bots.GET("/:id/summaries", s.handleDailySummaries)
		}

		capacityGroup := api.Group("/capacity")
		{
			capacityGroup.GET("/validate", s.handleValidateCapacity)
			capacityGroup.GET("/usage", s.handleUsageAnalysis)
			capacityGroup.GET("/alternatives", s.handleSuggestAlternatives)
		}

		trades := api.Group("/trades")
		{
			trades.POST("", s.handleCreateTrade)
			trades.POST("/check", s.handleAdmissionCheck)
			trades.GET("/active", s.handleActiveTrades)
			trades.GET("/history", s.handleTradeHistory)
			trades.GET("/:id", s.handleGetTrade)
			trades.POST("/:id/execute", s.handleExecuteTrade)
			trades.POST("/:id/close", s.handleCloseTrade)
			trades.POST("/:id/cancel", s.handleCancelTrade)
			trades.PUT("/:id/price", s.handleUpdatePrice)
		}
	}
}

// Start runs the websocket hub and blocks serving HTTP.
func (s *Server) Start() error {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
