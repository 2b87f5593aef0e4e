// Package event 提供会话生命周期事件的发布与订阅
package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType 事件类型
type EventType string

const (
	// EventSessionStarted 会话开始
	EventSessionStarted EventType = "session_started"
	// EventWarning 时间即将用尽提醒
	EventWarning EventType = "warning"
	// EventPaused 会话已暂停
	EventPaused EventType = "paused"
	// EventPauseCancelled 暂停触发被取消（宽限期内恢复）
	EventPauseCancelled EventType = "pause_cancelled"
	// EventResumed 会话已恢复
	EventResumed EventType = "resumed"
	// EventCompleted 会话已完成
	EventCompleted EventType = "completed"
	// EventTerminated 会话被终止
	EventTerminated EventType = "terminated"
	// EventAlert 时间相关的对话提示
	EventAlert EventType = "alert"
)

// Event 会话事件
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	EventType EventType      `json:"event_type"`
	Reason    string         `json:"reason,omitempty"`
	Data      string         `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent 创建事件
func NewEvent(sessionID, userID string, eventType EventType) *Event {
	return &Event{
		ID:        "evt_" + uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// Store 事件存储接口
type Store interface {
	SaveEvent(ctx context.Context, evt *Event) error
	GetEvents(ctx context.Context, sessionID string) ([]*Event, error)
	ClearEvents(ctx context.Context, sessionID string) error
}

// Handler 事件处理器接口
type Handler interface {
	Handle(ctx context.Context, evt *Event) error
}

// HandlerFunc 函数类型的事件处理器
type HandlerFunc func(ctx context.Context, evt *Event) error

// Handle 实现 Handler 接口
func (f HandlerFunc) Handle(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}

// Bus 事件总线
type Bus struct {
	store       Store
	subscribers []Handler
	mu          sync.RWMutex
}

// NewBus 创建事件总线
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Subscribe 订阅全部事件
func (b *Bus) Subscribe(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, handler)
	return nil
}

// Unsubscribe 取消订阅
func (b *Bus) Unsubscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, h := range b.subscribers {
		if h == handler {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			break
		}
	}
}

// Publish 发布事件：先落存储，再异步通知订阅者
func (b *Bus) Publish(ctx context.Context, evt *Event) error {
	if b.store != nil {
		if err := b.store.SaveEvent(ctx, evt); err != nil {
			return err
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.subscribers {
		go func(h Handler) {
			_ = h.Handle(ctx, evt)
		}(handler)
	}
	return nil
}

// GetEvents 获取会话的全部事件
func (b *Bus) GetEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	if b.store == nil {
		return []*Event{}, nil
	}
	return b.store.GetEvents(ctx, sessionID)
}

// ClearEvents 清空会话事件
func (b *Bus) ClearEvents(ctx context.Context, sessionID string) error {
	if b.store == nil {
		return nil
	}
	return b.store.ClearEvents(ctx, sessionID)
}
