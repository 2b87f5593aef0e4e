package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EmiMaldonado/glaub-session-api/internal/middleware"
	"github.com/EmiMaldonado/glaub-session-api/internal/model"
	"github.com/EmiMaldonado/glaub-session-api/internal/service"
)

// SessionHandler 会话处理器
type SessionHandler struct {
	svc *service.Services
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(svc *service.Services) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// ResumeOrCreate 返回当前活跃会话，没有则创建
func (h *SessionHandler) ResumeOrCreate(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		badRequest(c, "user not authenticated")
		return
	}

	session, isNew, err := h.svc.Session.ResumeOrCreate(c.Request.Context(), userID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	if isNew {
		created(c, session)
		return
	}
	success(c, session)
}

// GetSession 获取会话详情
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}
	success(c, session)
}

// ListSessions 列出用户会话
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	page, size := getPagination(c)

	sessions, total, err := h.svc.Session.List(c.Request.Context(), userID, (page-1)*size, size)
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, gin.H{
		"items": sessions,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

// PauseRequest 暂停请求
type PauseRequest struct {
	Reason string `json:"reason"`
}

// PauseSession 暂停会话
// 手动暂停走这里；环境信号触发的自动暂停走 WebSocket 通道
func (h *SessionHandler) PauseSession(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	sessionID := c.Param("id")

	var req PauseRequest
	_ = c.ShouldBindJSON(&req)
	reason := req.Reason
	if reason == "" {
		reason = model.PauseReasonManual
	}

	if ok := h.svc.Session.Pause(c.Request.Context(), sessionID, userID, reason, false); !ok {
		conflict(c, "session cannot be paused")
		return
	}

	session, err := h.svc.Session.Get(c.Request.Context(), sessionID)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, session)
}

// ResumeSession 恢复已暂停的会话
func (h *SessionHandler) ResumeSession(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	session, err := h.svc.Session.Resume(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		conflict(c, err.Error())
		return
	}
	success(c, session)
}

// EndSession 完成会话
func (h *SessionHandler) EndSession(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	if err := h.svc.Session.End(c.Request.Context(), session.ID); err != nil {
		errorResponse(c, err)
		return
	}
	success(c, gin.H{"id": session.ID, "status": model.SessionCompleted})
}

// TerminateSession 终止会话
func (h *SessionHandler) TerminateSession(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	if err := h.svc.Session.Terminate(c.Request.Context(), session.ID); err != nil {
		errorResponse(c, err)
		return
	}
	success(c, gin.H{"id": session.ID, "status": model.SessionTerminated})
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage 发送消息并获取助手回复
func (h *SessionHandler) SendMessage(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userMsg, reply, err := h.svc.Session.SendMessage(c.Request.Context(), c.Param("id"), userID, req.Content)
	if err != nil {
		// 用户消息已落库时把它带回去，前端不用重发
		if userMsg != nil {
			c.JSON(http.StatusInternalServerError, Response{Code: -1, Message: err.Error(), Data: gin.H{"message": userMsg}})
			return
		}
		errorResponse(c, err)
		return
	}

	success(c, gin.H{"message": userMsg, "reply": reply})
}

// ListMessages 列出会话消息
func (h *SessionHandler) ListMessages(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	messages, err := h.svc.Session.Messages(c.Request.Context(), session.ID)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, messages)
}

// ClearMessages 清空会话消息
func (h *SessionHandler) ClearMessages(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	if err := h.svc.Session.ClearMessages(c.Request.Context(), session.ID); err != nil {
		errorResponse(c, err)
		return
	}
	success(c, nil)
}

// GetSnapshot 获取用户的暂停快照
func (h *SessionHandler) GetSnapshot(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	snapshot, err := h.svc.Session.Snapshot(c.Request.Context(), userID)
	if err != nil {
		errorResponse(c, err)
		return
	}
	if snapshot == nil {
		notFound(c, "no paused session snapshot")
		return
	}
	success(c, snapshot)
}

// GetReport 获取治疗进度报告
func (h *SessionHandler) GetReport(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	report, err := h.svc.Session.Report(c.Request.Context(), session.ID)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, report)
}

// GetEvents 获取会话生命周期事件
func (h *SessionHandler) GetEvents(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	events, err := h.svc.Bus.GetEvents(c.Request.Context(), session.ID)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, events)
}

// ownedSession 加载路径参数里的会话并校验归属
func (h *SessionHandler) ownedSession(c *gin.Context) (*model.TherapySession, bool) {
	userID, _ := middleware.GetUserID(c)

	session, err := h.svc.Session.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		notFound(c, "session not found")
		return nil, false
	}
	if session.UserID != userID {
		notFound(c, "session not found")
		return nil, false
	}
	return session, true
}
