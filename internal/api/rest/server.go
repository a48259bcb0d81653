package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/api/websocket"
	"github.com/KevinKickass/OpenDO96/internal/auth"
	"github.com/KevinKickass/OpenDO96/internal/config"
	"github.com/KevinKickass/OpenDO96/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
	listener    net.Listener
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener synchronously so port errors are returned, then
// serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("Starting REST API server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
			authPublic.POST("/refresh", s.refreshToken)
		}

		// ==================== AUTH (AUTHENTICATED) ====================
		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.POST("/logout", s.logout)
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== MACHINE TOKENS (ADMIN ONLY) ====================
		machineTokens := v1.Group("/machine-tokens")
		machineTokens.Use(s.authService.AuthMiddleware())
		machineTokens.Use(auth.RequirePermission(auth.PermAdmin))
		{
			machineTokens.POST("", s.createMachineToken)
			machineTokens.GET("", s.listMachineTokens)
			machineTokens.DELETE("/:id", s.deleteMachineToken)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== CARDS ====================
		cards := v1.Group("/cards")
		cards.Use(s.authService.AuthMiddleware())
		{
			// Read and switch: Operator+
			cards.GET("", auth.RequirePermission(auth.PermOperator), s.listCards)
			cards.GET("/:name", auth.RequirePermission(auth.PermOperator), s.getCard)
			cards.GET("/:name/state", auth.RequirePermission(auth.PermOperator), s.getCardState)
			cards.GET("/:name/journal", auth.RequirePermission(auth.PermOperator), s.getCardJournal)
			cards.POST("/:name/on", auth.RequirePermission(auth.PermOperator), s.turnOn)
			cards.POST("/:name/off", auth.RequirePermission(auth.PermOperator), s.turnOff)
			cards.POST("/:name/set", auth.RequirePermission(auth.PermOperator), s.setOutputs)
			cards.POST("/:name/reset", auth.RequirePermission(auth.PermOperator), s.resetOutputs)
			cards.POST("/:name/all-on", auth.RequirePermission(auth.PermOperator), s.allOn)

			// Sessions: Technician+
			cards.POST("/:name/init", auth.RequirePermission(auth.PermTechnician), s.initCard)
			cards.POST("/:name/close", auth.RequirePermission(auth.PermTechnician), s.closeCard)

			// Registration: Admin only
			cards.POST("", auth.RequirePermission(auth.PermAdmin), s.createCard)
			cards.DELETE("/:name", auth.RequirePermission(auth.PermAdmin), s.deleteCard)
		}

		// ==================== PROFILES ====================
		profiles := v1.Group("/profiles")
		profiles.Use(s.authService.AuthMiddleware())
		{
			profiles.GET("", auth.RequirePermission(auth.PermOperator), s.listProfiles)
			profiles.GET("/:name", auth.RequirePermission(auth.PermOperator), s.getProfile)
			profiles.POST("/reload", auth.RequirePermission(auth.PermAdmin), s.reloadProfiles)
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"state":     status.State,
		"timestamp": time.Now().Unix(),
	})
}
