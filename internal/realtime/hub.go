// Package realtime 维护与浏览器客户端的 WebSocket 通道
// 入站：环境信号（可见性、网络、页面生命周期）
// 出站：协作方指令（停止语音、跳转、toast）与会话事件推送
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/EmiMaldonado/glaub-session-api/internal/service/event"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/pause"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBufSize   = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 信任网关层做跨域控制
	},
}

// 出站帧类型
const (
	frameStopAudio = "stop_audio"
	frameRedirect  = "redirect"
	frameToast     = "toast"
	frameEvent     = "event"
	framePrompt    = "confirm_prompt"
)

// inboundFrame 客户端上报帧
type inboundFrame struct {
	Type   string `json:"type"`             // signal | unload
	Signal string `json:"signal,omitempty"` // pause.Signal 的取值
}

// outboundFrame 服务端下发帧
type outboundFrame struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id,omitempty"`
	Path        string `json:"path,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Event       any    `json:"event,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
}

// SignalSink 信号消费方（由会话服务实现）
type SignalSink interface {
	HandleSignal(ctx context.Context, sessionID, userID string, sig pause.Signal)
	HandleUnload(ctx context.Context, sessionID, userID string) string
}

// client 单个 WebSocket 连接
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	userID    string
}

// Hub WebSocket 连接中枢
// 同时充当暂停编排器的音频、导航、提示三个协作方
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	sink    SignalSink
}

// NewHub 创建连接中枢
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// SetSink 注入信号消费方（装配期调用一次）
func (h *Hub) SetSink(sink SignalSink) {
	h.sink = sink
}

// 编排器协作方接口的静态检查
var (
	_ pause.AudioController = (*Hub)(nil)
	_ pause.Navigator       = (*Hub)(nil)
	_ pause.Notifier        = (*Hub)(nil)
	_ event.Handler         = (*Hub)(nil)
)

// HandleWS gin 路由入口：升级连接并进入读写循环
func (h *Hub) HandleWS(c *gin.Context) {
	sessionID := c.Param("id")
	userID, _ := c.Get("user_id")
	uid, _ := userID.(string)
	if sessionID == "" || uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": -1, "message": "session id and user required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[realtime] upgrade failed: %v", err)
		return
	}

	cl := &client{
		conn:      conn,
		send:      make(chan []byte, sendBufSize),
		sessionID: sessionID,
		userID:    uid,
	}

	h.mu.Lock()
	h.clients[cl] = true
	h.mu.Unlock()

	// 重连视为网络恢复
	if h.sink != nil {
		h.sink.HandleSignal(c.Request.Context(), sessionID, uid, pause.SignalOnline)
	}

	go h.writePump(cl)
	h.readPump(cl)
}

// readPump 读循环：解析信号帧并转发
func (h *Hub) readPump(cl *client) {
	defer h.drop(cl)

	cl.conn.SetReadDeadline(time.Now().Add(readDeadline))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[realtime] malformed frame from session %s: %v", cl.sessionID, err)
			continue
		}

		ctx := context.Background()
		switch frame.Type {
		case "signal":
			if h.sink != nil {
				h.sink.HandleSignal(ctx, cl.sessionID, cl.userID, pause.Signal(frame.Signal))
			}
		case "unload":
			// unload 需要同步回执确认文案，页面可能马上关闭
			if h.sink != nil {
				prompt := h.sink.HandleUnload(ctx, cl.sessionID, cl.userID)
				h.sendTo(cl, &outboundFrame{Type: framePrompt, Prompt: prompt})
			}
		default:
			log.Printf("[realtime] unknown frame type %q", frame.Type)
		}
	}
}

// writePump 写循环：下发帧与心跳
func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drop 连接断开：最后一个连接掉线视为网络丢失信号
func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	close(cl.send)
	remaining := 0
	for other := range h.clients {
		if other.sessionID == cl.sessionID {
			remaining++
		}
	}
	h.mu.Unlock()

	cl.conn.Close()

	if remaining == 0 && h.sink != nil {
		h.sink.HandleSignal(context.Background(), cl.sessionID, cl.userID, pause.SignalOffline)
	}
}

// StopAllPlayback 实现 pause.AudioController
// 给会话的所有连接下发停止播放指令；没有连接时报告失败
func (h *Hub) StopAllPlayback(sessionID string) error {
	n := h.broadcast(func(cl *client) bool { return cl.sessionID == sessionID },
		&outboundFrame{Type: frameStopAudio, SessionID: sessionID})
	if n == 0 {
		return fmt.Errorf("no connected clients for session %s", sessionID)
	}
	return nil
}

// RedirectTo 实现 pause.Navigator
func (h *Hub) RedirectTo(userID, path string) {
	h.broadcast(func(cl *client) bool { return cl.userID == userID },
		&outboundFrame{Type: frameRedirect, Path: path})
}

// Notify 实现 pause.Notifier（发完即忘）
func (h *Hub) Notify(userID, title, description, severity string) {
	h.broadcast(func(cl *client) bool { return cl.userID == userID },
		&outboundFrame{Type: frameToast, Title: title, Description: description, Severity: severity})
}

// Handle 实现 event.Handler：把会话事件推给该会话的连接
func (h *Hub) Handle(ctx context.Context, evt *event.Event) error {
	h.broadcast(func(cl *client) bool { return cl.sessionID == evt.SessionID },
		&outboundFrame{Type: frameEvent, SessionID: evt.SessionID, Event: evt})
	return nil
}

// sendTo 给单个连接下发一帧
func (h *Hub) sendTo(cl *client, frame *outboundFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case cl.send <- data:
	default:
	}
}

// broadcast 按条件下发帧，返回送达的连接数
func (h *Hub) broadcast(match func(*client) bool, frame *outboundFrame) int {
	data, err := json.Marshal(frame)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for cl := range h.clients {
		if !match(cl) {
			continue
		}
		select {
		case cl.send <- data:
			n++
		default:
			// 发送缓冲满，丢帧而不是阻塞
		}
	}
	return n
}

// ConnectedSessions 当前有连接的会话数（用于健康检查）
func (h *Hub) ConnectedSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	for cl := range h.clients {
		seen[cl.sessionID] = true
	}
	return len(seen)
}
