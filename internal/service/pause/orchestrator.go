// Package pause 实现会话暂停的状态机与环境触发监控
package pause

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EmiMaldonado/glaub-session-api/internal/config"
	"github.com/EmiMaldonado/glaub-session-api/internal/model"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/event"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/summary"
)

// 状态机状态
const (
	StateIdle              = "idle"
	StateStoppingAudio     = "stopping_audio"
	StatePersisting        = "persisting"
	StateNotifying         = "notifying"
	StateDone              = "done"
	StateFailedRecoverable = "failed_recoverable"
)

// AudioController 语音播放协作方
// 尽力而为：实现方不许抛出，失败只记日志
type AudioController interface {
	StopAllPlayback(sessionID string) error
}

// Navigator 导航协作方
// 只用于兜底：保证自动暂停后用户一定离开会话页面
type Navigator interface {
	RedirectTo(userID, path string)
}

// Notifier 用户提示协作方（toast，发完即忘）
type Notifier interface {
	Notify(userID, title, description, severity string)
}

// ManagedPauser 可选注入的托管暂停回调
// 存在时优先于直接持久化
type ManagedPauser func(ctx context.Context) (bool, error)

// SessionStore 会话持久化接口
type SessionStore interface {
	MarkPaused(id, reason string, pausedAt time.Time, elapsedSeconds int) error
	MarkResumed(id string) error
}

// SnapshotStore 快照持久化接口
type SnapshotStore interface {
	Upsert(snapshot *model.PausedSnapshot) error
	DeleteByUserID(userID string) error
}

// Request 一次暂停请求
type Request struct {
	Session  *model.TherapySession
	UserID   string
	Messages []*model.SessionMessage
	Reason   string // model.PauseReason*

	// ManagedPause 可选：调用方已托管持久化时注入
	ManagedPause ManagedPauser
	// OnUIUpdate 持久化结果无论成败都会调用，UI 不允许留在不一致状态
	OnUIUpdate func()
	// Unload 页面卸载场景，持久化使用更短的超时
	Unload bool
}

// intent 进行中的暂停操作（纯内存，单飞锁）
type intent struct {
	id        string
	sessionID string
	reason    string
	state     string
	startedAt time.Time
	cooldown  *time.Timer
}

// Orchestrator 暂停编排器
// 每个会话同一时刻至多一个暂停在途；完成后锁经过冷却期才释放，
// 用来吸收同一次中断里接连到达的重复触发（如 offline 紧跟 pagehide）
type Orchestrator struct {
	mu           sync.Mutex
	inflight     map[string]*intent
	shuttingDown bool

	cfg       config.SessionConfig
	sessions  SessionStore
	snapshots SnapshotStore
	extractor *summary.Extractor
	bus       *event.Bus

	audio    AudioController
	nav      Navigator
	notifier Notifier
}

// NewOrchestrator 创建暂停编排器
func NewOrchestrator(
	cfg config.SessionConfig,
	sessions SessionStore,
	snapshots SnapshotStore,
	extractor *summary.Extractor,
	bus *event.Bus,
	audio AudioController,
	nav Navigator,
	notifier Notifier,
) *Orchestrator {
	return &Orchestrator{
		inflight:  make(map[string]*intent),
		cfg:       cfg,
		sessions:  sessions,
		snapshots: snapshots,
		extractor: extractor,
		bus:       bus,
		audio:     audio,
		nav:       nav,
		notifier:  notifier,
	}
}

// Pause 执行一次暂停
// 返回 false 表示请求在入口被拒绝（无会话/无用户/锁被占用/正在关停），
// 返回 true 表示至少有一个副作用落地（音频停止或持久化成功）
func (o *Orchestrator) Pause(ctx context.Context, req *Request) bool {
	if req == nil || req.Session == nil || req.UserID == "" {
		return false
	}

	in, ok := o.acquire(req.Session.ID, req.Reason)
	if !ok {
		return false
	}

	// 1. 停止语音播放，失败不中断后续步骤
	in.state = StateStoppingAudio
	audioOK := o.stopAudio(req.Session.ID)

	// 2. 持久化：托管优先，直接持久化兜底
	in.state = StatePersisting
	persistOK := o.persist(ctx, req)

	// 3. 无论持久化结果如何都要通知，UI 不能停在旧状态
	in.state = StateNotifying
	if req.OnUIUpdate != nil {
		req.OnUIUpdate()
	}
	o.publishPaused(ctx, req, persistOK)

	// 4. 非手动暂停必须保证用户离开会话页面，放到独立 goroutine，
	//    不会被挂起的持久化调用饿死
	if req.Reason != model.PauseReasonManual {
		go o.nav.RedirectTo(req.UserID, "/dashboard")
	}

	// 5. 按原因给出一条用户提示
	o.notifyByReason(req, audioOK || persistOK)

	if persistOK || audioOK {
		in.state = StateDone
	} else {
		in.state = StateFailedRecoverable
	}

	o.scheduleRelease(in)
	return audioOK || persistOK
}

// Resume 恢复会话
// 只把状态改回 active；快照保留给 UI 做"从上次继续"，
// 是否删除由配置策略决定
func (o *Orchestrator) Resume(ctx context.Context, sessionID, userID string) error {
	if err := o.runBounded(o.cfg.PersistTimeout, func() error {
		return o.sessions.MarkResumed(sessionID)
	}); err != nil {
		return fmt.Errorf("failed to resume session: %w", err)
	}

	if o.cfg.DeleteSnapshotOnResume {
		if err := o.snapshots.DeleteByUserID(userID); err != nil {
			log.Printf("[pause] failed to delete snapshot for user %s: %v", userID, err)
		}
	}

	if o.bus != nil {
		_ = o.bus.Publish(ctx, event.NewEvent(sessionID, userID, event.EventResumed))
	}
	return nil
}

// InFlight 会话是否有暂停在途（含冷却期）
func (o *Orchestrator) InFlight(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[sessionID]
	return ok
}

// Dispose 关停编排器
// 不再接受新的暂停请求；在途的暂停允许跑完以免丢数据
func (o *Orchestrator) Dispose() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.shuttingDown = true
	for _, in := range o.inflight {
		if in.cooldown != nil {
			in.cooldown.Stop()
		}
	}
}

// acquire 获取会话的单飞锁
func (o *Orchestrator) acquire(sessionID, reason string) (*intent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.shuttingDown {
		return nil, false
	}
	if _, exists := o.inflight[sessionID]; exists {
		return nil, false
	}

	in := &intent{
		id:        uuid.New().String(),
		sessionID: sessionID,
		reason:    reason,
		state:     StateIdle,
		startedAt: time.Now(),
	}
	o.inflight[sessionID] = in
	return in, true
}

// scheduleRelease 冷却期后释放锁
// 不在完成时立即释放：同一次中断常有多个触发器在毫秒级内先后开火
func (o *Orchestrator) scheduleRelease(in *intent) {
	cooldown := o.cfg.PauseCooldown
	if cooldown <= 0 {
		cooldown = 2500 * time.Millisecond
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	in.cooldown = time.AfterFunc(cooldown, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if cur, ok := o.inflight[in.sessionID]; ok && cur.id == in.id {
			delete(o.inflight, in.sessionID)
		}
	})
}

// stopAudio 请求停止语音播放
func (o *Orchestrator) stopAudio(sessionID string) bool {
	if o.audio == nil {
		return false
	}
	if err := o.audio.StopAllPlayback(sessionID); err != nil {
		log.Printf("[pause] audio stop failed for session %s: %v", sessionID, err)
		return false
	}
	return true
}

// persist 持久化暂停状态
func (o *Orchestrator) persist(ctx context.Context, req *Request) bool {
	// 策略 a：托管暂停
	if req.ManagedPause != nil {
		ok, err := o.managedPause(ctx, req.ManagedPause)
		if err == nil && ok {
			return true
		}
		log.Printf("[pause] managed pause failed for session %s, falling back: %v", req.Session.ID, err)
	}

	// 策略 b：直接持久化
	return o.directPersist(req)
}

// managedPause 带超时执行托管暂停回调
func (o *Orchestrator) managedPause(ctx context.Context, fn ManagedPauser) (bool, error) {
	timeout := o.cfg.ManagedPauseTimeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ok, err := fn(ctx)
		ch <- result{ok, err}
	}()

	select {
	case r := <-ch:
		return r.ok, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// directPersist 构造暂停载荷，更新会话并 upsert 快照
// 主更新成功时快照失败不算失败（只记日志）
func (o *Orchestrator) directPersist(req *Request) bool {
	timeout := o.cfg.PersistTimeout
	if req.Unload {
		timeout = o.cfg.UnloadPersistTimeout
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	pausedAt := time.Now()
	sessionOK := false

	err := o.runBounded(timeout, func() error {
		if err := o.sessions.MarkPaused(req.Session.ID, req.Reason, pausedAt, req.Session.ElapsedSeconds); err != nil {
			return err
		}
		sessionOK = true

		snapshot := o.buildSnapshot(req, pausedAt)
		if err := o.snapshots.Upsert(snapshot); err != nil {
			// 快照失败非致命
			log.Printf("[pause] snapshot upsert failed for user %s: %v", req.UserID, err)
		}
		return nil
	})
	if err != nil {
		log.Printf("[pause] direct persist failed for session %s: %v", req.Session.ID, err)
		return sessionOK
	}
	return true
}

// buildSnapshot 构造暂停快照
func (o *Orchestrator) buildSnapshot(req *Request, pausedAt time.Time) *model.PausedSnapshot {
	sctx := o.extractor.Extract(req.Messages)

	msgs := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, map[string]any{
			"id":         m.ID,
			"role":       m.Role,
			"content":    m.Content,
			"created_at": m.CreatedAt,
		})
	}

	return &model.PausedSnapshot{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		SessionID:     req.Session.ID,
		SchemaVersion: model.SnapshotSchemaVersion,
		Messages:      model.JSON{"messages": msgs},
		Context: model.JSON{
			"topic":      sctx.Topic,
			"concerns":   sctx.Concerns,
			"phase":      sctx.Phase,
			"progress":   sctx.Progress,
			"next_steps": sctx.NextSteps,
		},
		PauseReason: req.Reason,
		PausedAt:    pausedAt,
	}
}

// publishPaused 发布暂停事件
func (o *Orchestrator) publishPaused(ctx context.Context, req *Request, persisted bool) {
	if o.bus == nil {
		return
	}
	evt := event.NewEvent(req.Session.ID, req.UserID, event.EventPaused)
	evt.Reason = req.Reason
	evt.Metadata = map[string]any{"persisted": persisted}
	if err := o.bus.Publish(ctx, evt); err != nil {
		log.Printf("[pause] failed to publish paused event: %v", err)
	}
}

// notifyByReason 按暂停原因给出提示文案
// 每次暂停尝试只出一条提示，静默的状态变化是不允许的
func (o *Orchestrator) notifyByReason(req *Request, succeeded bool) {
	if o.notifier == nil {
		return
	}

	severity := "info"
	if !succeeded {
		severity = "error"
	}

	var title, description string
	switch req.Reason {
	case model.PauseReasonManual:
		title, description = "Session paused", "Your session has been paused. Resume whenever you're ready."
	case model.PauseReasonNetwork:
		title, description = "Connection lost", "We paused your session because the connection dropped. Your progress is saved."
	case model.PauseReasonVisibility:
		title, description = "Session paused", "We paused your session when you switched away. Come back anytime."
	default: // auto
		title, description = "Session paused", "Your session was paused automatically. You can pick up where you left off."
	}
	if !succeeded {
		description = "We couldn't save everything, but your session was paused. Please check your connection."
	}

	o.notifier.Notify(req.UserID, title, description, severity)
}

// runBounded 在限定时间内执行一个阻塞调用
// 数据库驱动不保证尊重取消，所以用独立 goroutine 加超时竞争，
// 暂停路径上绝不允许被慢调用挂死
func (o *Orchestrator) runBounded(timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	ch := make(chan error, 1)
	go func() {
		ch <- fn()
	}()

	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}
