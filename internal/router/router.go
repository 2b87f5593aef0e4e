package router

import (
	"github.com/gin-gonic/gin"

	"github.com/EmiMaldonado/glaub-session-api/internal/handler"
	"github.com/EmiMaldonado/glaub-session-api/internal/middleware"
	"github.com/EmiMaldonado/glaub-session-api/internal/service"
)

// SetupRouter 设置路由
func SetupRouter(h *handler.Handlers, svc *service.Services) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.CORSMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// Auth 认证
		auth := v1.Group("/auth")
		{
			auth.POST("/register", h.Auth.Register)
			auth.POST("/login", h.Auth.Login)
			auth.GET("/me", middleware.RequireAuth(svc.Auth), h.Auth.Me)
		}

		// Session 会话生命周期
		sessions := v1.Group("/sessions", middleware.RequireAuth(svc.Auth))
		{
			sessions.POST("", h.Session.ResumeOrCreate)
			sessions.GET("", h.Session.ListSessions)
			sessions.GET("/:id", h.Session.GetSession)
			sessions.POST("/:id/pause", h.Session.PauseSession)
			sessions.POST("/:id/resume", h.Session.ResumeSession)
			sessions.POST("/:id/end", h.Session.EndSession)
			sessions.DELETE("/:id", h.Session.TerminateSession)
			sessions.POST("/:id/messages", h.Session.SendMessage)
			sessions.GET("/:id/messages", h.Session.ListMessages)
			sessions.DELETE("/:id/messages", h.Session.ClearMessages)
			sessions.GET("/:id/report", h.Session.GetReport)
			sessions.GET("/:id/events", h.Session.GetEvents)
		}

		// Snapshot 暂停快照（按用户一份）
		v1.GET("/snapshot", middleware.RequireAuth(svc.Auth), h.Session.GetSnapshot)
	}

	// WebSocket 环境信号通道
	// 浏览器 WebSocket 无法带 Authorization 头，这里走宽松认证
	r.GET("/ws/sessions/:id", middleware.AuthMiddleware(svc.Auth), svc.Hub.HandleWS)

	return r
}
