package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EmiMaldonado/glaub-session-api/internal/middleware"
	"github.com/EmiMaldonado/glaub-session-api/internal/service"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/auth"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	svc *service.Services
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(svc *service.Services) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Register 注册
func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, err := h.svc.Auth.Register(c.Request.Context(), &req)
	if err != nil {
		conflict(c, err.Error())
		return
	}
	created(c, user)
}

// Login 登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := h.svc.Auth.Login(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, Response{Code: -1, Message: err.Error()})
		return
	}
	success(c, resp)
}

// Me 返回当前登录用户
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Response{Code: -1, Message: "not authenticated"})
		return
	}
	success(c, user)
}
