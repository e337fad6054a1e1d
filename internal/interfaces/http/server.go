package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llm-council/llm-council/gateway/internal/application/usecase"
	"github.com/llm-council/llm-council/gateway/internal/domain/repository"
	"github.com/llm-council/llm-council/gateway/internal/domain/service"
	"github.com/llm-council/llm-council/gateway/internal/infrastructure/config"
	"github.com/llm-council/llm-council/gateway/internal/interfaces/http/handlers"
)

// Server is the HTTP transport for the gateway.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config holds the HTTP server settings.
type Config struct {
	Host           string
	Port           int
	Mode           string // debug, release
	AllowedOrigins []string
	ForceStreaming bool
}

// NewServer wires the router: the OpenAI-compatible surface, the runtime
// configuration API, and the conversation log API.
func NewServer(
	cfg Config,
	chatUC *usecase.CouncilChatUseCase,
	store *config.Store,
	client service.ModelClient,
	repo repository.ConversationRepository,
	logger *zap.Logger,
) *Server {
	if cfg.Mode == "release" || cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	openaiHandler := handlers.NewOpenAIHandler(chatUC, repo, cfg.ForceStreaming, logger)
	configHandler := handlers.NewConfigHandler(store, client, logger)
	conversationHandler := handlers.NewConversationHandler(repo, logger)

	setupRoutes(router, openaiHandler, configHandler, conversationHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(
	router *gin.Engine,
	openaiHandler *handlers.OpenAIHandler,
	configHandler *handlers.ConfigHandler,
	conversationHandler *handlers.ConversationHandler,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// OpenAI-compatible API
	oai := router.Group("/v1")
	{
		oai.POST("/chat/completions", openaiHandler.ChatCompletions)
		oai.DELETE("/chat/completions/:id", openaiHandler.DeleteConversation)
		oai.GET("/models", openaiHandler.ListModels)
	}

	// Management API
	api := router.Group("/api")
	{
		api.GET("/config", configHandler.GetConfig)
		api.PUT("/config", configHandler.UpdateConfig)
		api.POST("/config/reload", configHandler.ReloadConfig)
		api.GET("/config/validate", configHandler.ValidateModels)

		api.GET("/conversations", conversationHandler.List)
		api.GET("/conversations/:id", conversationHandler.Get)
		api.DELETE("/conversations/:id", conversationHandler.Delete)
	}
}

// corsMiddleware reflects the configured origins. An empty allow-list keeps
// the API same-origin only.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// ginLogger logs each request through zap.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
