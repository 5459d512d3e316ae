package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSPIMCore/internal/auth"
	"github.com/KevinKickass/OpenSPIMCore/internal/config"
	"github.com/KevinKickass/OpenSPIMCore/internal/interfaces"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
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

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
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
		// ==================== AUTH ====================
		v1.POST("/auth/token", s.login)
		v1.GET("/auth/me", s.authService.AuthMiddleware(), s.getCurrentUser)

		// ==================== STATE (OPERATOR+) ====================
		st := v1.Group("/state")
		st.Use(s.authService.AuthMiddleware())
		st.Use(auth.RequirePermission(auth.PermOperator))
		{
			st.GET("", s.getState)
			st.PATCH("", s.patchState)
		}

		// ==================== MICROSCOPE (OPERATOR+) ====================
		scope := v1.Group("/microscope")
		scope.Use(s.authService.AuthMiddleware())
		scope.Use(auth.RequirePermission(auth.PermOperator))
		{
			scope.GET("/status", s.getMicroscopeStatus)
			scope.POST("/command", s.executeCommand)
		}

		// ==================== ACQUISITION LIST ====================
		acq := v1.Group("/acquisitions")
		acq.Use(s.authService.AuthMiddleware())
		{
			// Edit: Operator+
			acq.GET("", auth.RequirePermission(auth.PermOperator), s.getList)
			acq.PUT("", auth.RequirePermission(auth.PermOperator), s.replaceList)
			acq.GET("/summary", auth.RequirePermission(auth.PermOperator), s.getSummary)
			acq.POST("/entries", auth.RequirePermission(auth.PermOperator), s.addEntry)
			acq.PATCH("/entries/:index", auth.RequirePermission(auth.PermOperator), s.updateEntry)
			acq.DELETE("/entries/:index", auth.RequirePermission(auth.PermOperator), s.removeEntry)
			acq.POST("/entries/:index/move", auth.RequirePermission(auth.PermOperator), s.moveEntry)

			// Files on the instrument host: Technician+
			acq.POST("/load", auth.RequirePermission(auth.PermTechnician), s.loadList)
			acq.POST("/save", auth.RequirePermission(auth.PermTechnician), s.saveList)
		}

		// ==================== SCRIPTS (TECHNICIAN+) ====================
		scripts := v1.Group("/scripts")
		scripts.Use(s.authService.AuthMiddleware())
		scripts.Use(auth.RequirePermission(auth.PermTechnician))
		{
			scripts.GET("", s.listScripts)
			scripts.POST("", s.createScript)
			scripts.POST("/:id/execute", s.executeScript)
			scripts.DELETE("/:id", s.closeScript)
		}

		// ==================== RUN HISTORY (OPERATOR+) ====================
		runs := v1.Group("/runs")
		runs.Use(s.authService.AuthMiddleware())
		runs.Use(auth.RequirePermission(auth.PermOperator))
		{
			runs.GET("", s.listRuns)
			runs.GET("/:id", s.getRun)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

// WebSocket handlers
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
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
