package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/config"
	"github.com/streamcast/live-rules/internal/rules"
	"github.com/streamcast/live-rules/internal/rules/actions"
)

// Server 管理面板HTTP服务器
type Server struct {
	httpServer *http.Server
}

// NewServer 创建HTTP服务器并装配路由。
// overlay可为nil，此时不暴露叠加层WebSocket端点。
func NewServer(cfg config.WebConfig, service *rules.Service, overlay *actions.OverlayHandler) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(recoveryMiddleware(), loggerMiddleware(), corsMiddleware())

	ruleHandler := NewRuleHandler(service)
	systemHandler := NewSystemHandler(service)

	api := router.Group("/api")
	{
		if cfg.Auth.Enabled {
			authHandler := NewAuthHandler(cfg.Auth)
			api.POST("/auth/login", authHandler.Login)
			api.Use(jwtMiddleware(cfg.Auth.JWTSecret))
		}

		api.GET("/rules", ruleHandler.ListRules)
		api.POST("/rules", ruleHandler.CreateRule)
		api.GET("/rules/:id", ruleHandler.GetRule)
		api.PUT("/rules/:id", ruleHandler.UpdateRule)
		api.DELETE("/rules/:id", ruleHandler.DeleteRule)
		api.PUT("/rules/:id/enabled", ruleHandler.SetRuleEnabled)
		api.GET("/export", ruleHandler.ExportRules)
		api.POST("/import", ruleHandler.ImportRules)

		api.POST("/dispatch/stop", ruleHandler.StopDispatch)

		api.GET("/system/status", systemHandler.GetStatus)
		api.GET("/system/engine", systemHandler.GetEngineMetrics)

		if overlay != nil {
			api.GET("/overlay/ws", func(c *gin.Context) {
				overlay.HandleConnection(c.Writer, c.Request)
			})
		}
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Start 启动HTTP服务器，阻塞直到关闭
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("启动管理面板HTTP服务器")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
