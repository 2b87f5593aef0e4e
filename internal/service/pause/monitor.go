package pause

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/EmiMaldonado/glaub-session-api/internal/model"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/event"
)

// Trigger 触发器类型
type Trigger string

const (
	// TriggerVisibility 标签页可见性
	TriggerVisibility Trigger = "visibility"
	// TriggerNetwork 网络连通性
	TriggerNetwork Trigger = "network"
	// TriggerLifecycle 页面生命周期（hide/show）
	TriggerLifecycle Trigger = "lifecycle"
)

// Signal 客户端上报的环境信号
type Signal string

const (
	SignalHidden   Signal = "visibility_hidden"
	SignalVisible  Signal = "visibility_visible"
	SignalOffline  Signal = "offline"
	SignalOnline   Signal = "online"
	SignalPageHide Signal = "pagehide"
	SignalPageShow Signal = "pageshow"
	SignalUnload   Signal = "unload"
)

// reasonFor 触发器对应的暂停原因
func reasonFor(trigger Trigger) string {
	switch trigger {
	case TriggerVisibility:
		return model.PauseReasonVisibility
	case TriggerNetwork:
		return model.PauseReasonNetwork
	default:
		return model.PauseReasonAuto
	}
}

// PauseFunc 由装配层提供：加载会话与消息后调用编排器
// 返回值含义与 Orchestrator.Pause 一致
type PauseFunc func(ctx context.Context, sessionID, userID, reason string, unload bool) bool

// Monitor 活动监视器
// 每个 (会话, 触发器) 一台 armed -> pending -> fired 状态机：
// 触发信号进入 pending 并启动宽限计时器；宽限期内收到恢复信号
// 则取消并回到 armed；计时器走完才真正发起暂停。
// 并发触发的去重交给编排器的单飞锁。
type Monitor struct {
	mu       sync.Mutex
	pending  map[string]*time.Timer // sessionID + ":" + trigger
	disposed bool

	grace    time.Duration
	pause    PauseFunc
	notifier Notifier
	bus      *event.Bus
}

// NewMonitor 创建活动监视器
func NewMonitor(grace time.Duration, pause PauseFunc, notifier Notifier, bus *event.Bus) *Monitor {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Monitor{
		pending:  make(map[string]*time.Timer),
		grace:    grace,
		pause:    pause,
		notifier: notifier,
		bus:      bus,
	}
}

// HandleSignal 处理一条环境信号
func (m *Monitor) HandleSignal(ctx context.Context, sessionID, userID string, sig Signal) {
	switch sig {
	case SignalHidden:
		m.arm(ctx, sessionID, userID, TriggerVisibility)
	case SignalVisible:
		m.recover(ctx, sessionID, userID, TriggerVisibility)
	case SignalOffline:
		m.arm(ctx, sessionID, userID, TriggerNetwork)
	case SignalOnline:
		m.recover(ctx, sessionID, userID, TriggerNetwork)
	case SignalPageHide:
		m.arm(ctx, sessionID, userID, TriggerLifecycle)
	case SignalPageShow:
		m.recover(ctx, sessionID, userID, TriggerLifecycle)
	case SignalUnload:
		// unload 需要同步带回确认文案，不能从这里静默处理；
		// 走错通道的上报只记日志，不产生副作用
		log.Printf("[monitor] unload signal for session %s ignored, use the unload path", sessionID)
	default:
		log.Printf("[monitor] unknown signal %q for session %s", sig, sessionID)
	}
}

// HandleUnload 页面卸载：没有宽限期
// 同步尽力而为地发起一次短超时暂停；浏览器随时可能终止页面，
// 这是一个无法完全关闭的固有竞争。有消息历史时返回确认提示文案。
func (m *Monitor) HandleUnload(ctx context.Context, sessionID, userID string, hasMessages bool) string {
	m.mu.Lock()
	disposed := m.disposed
	m.mu.Unlock()

	if !disposed && m.pause != nil {
		m.pause(ctx, sessionID, userID, model.PauseReasonAuto, true)
	}

	if hasMessages {
		return "You have an active session. Leave anyway? Your progress will be saved."
	}
	return ""
}

// ClearSession 会话离开活跃状态时取消其全部待定触发
func (m *Monitor) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, trigger := range []Trigger{TriggerVisibility, TriggerNetwork, TriggerLifecycle} {
		key := sessionID + ":" + string(trigger)
		if timer, ok := m.pending[key]; ok {
			timer.Stop()
			delete(m.pending, key)
		}
	}
}

// Dispose 关停监视器，取消所有宽限计时器
// 残留的计时器会打在陈旧的会话上，必须全部停掉
func (m *Monitor) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disposed = true
	for key, timer := range m.pending {
		timer.Stop()
		delete(m.pending, key)
	}
}

// arm 触发器开火，进入 pending 状态
func (m *Monitor) arm(ctx context.Context, sessionID, userID string, trigger Trigger) {
	key := sessionID + ":" + string(trigger)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}
	if _, exists := m.pending[key]; exists {
		// 已在宽限期内，不重复启动
		return
	}

	m.pending[key] = time.AfterFunc(m.grace, func() {
		m.fire(ctx, sessionID, userID, trigger)
	})
}

// fire 宽限期走完，发起暂停并回到 armed
func (m *Monitor) fire(ctx context.Context, sessionID, userID string, trigger Trigger) {
	key := sessionID + ":" + string(trigger)

	m.mu.Lock()
	delete(m.pending, key)
	disposed := m.disposed
	m.mu.Unlock()

	if disposed || m.pause == nil {
		return
	}
	m.pause(ctx, sessionID, userID, reasonFor(trigger), false)
}

// recover 宽限期内收到恢复信号，取消待定的暂停
func (m *Monitor) recover(ctx context.Context, sessionID, userID string, trigger Trigger) {
	key := sessionID + ":" + string(trigger)

	m.mu.Lock()
	timer, exists := m.pending[key]
	if exists {
		timer.Stop()
		delete(m.pending, key)
	}
	m.mu.Unlock()

	if !exists {
		return
	}

	if m.notifier != nil {
		m.notifier.Notify(userID, "Welcome back", "Good to have you back — your session continues.", "info")
	}
	if m.bus != nil {
		evt := event.NewEvent(sessionID, userID, event.EventPauseCancelled)
		evt.Reason = reasonFor(trigger)
		_ = m.bus.Publish(ctx, evt)
	}
}
