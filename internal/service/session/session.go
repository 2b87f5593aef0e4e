// Package session 管理治疗会话的生命周期：创建、计时、暂停、恢复与完成
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EmiMaldonado/glaub-session-api/internal/config"
	"github.com/EmiMaldonado/glaub-session-api/internal/model"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/analysis"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/event"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/pause"
)

// Generator LLM 协作方接口（黑盒：可能失败或超时）
type Generator interface {
	Reply(ctx context.Context, messages []*model.SessionMessage) (string, error)
	GenerateProfile(ctx context.Context, messages []*model.SessionMessage) (model.JSON, error)
}

// Store 会话持久化接口（由 repository.SessionRepository 实现）
// MarkCompleted / MarkTerminated 的布尔返回值表示本次调用是否
// 赢得了状态迁移：状态守卫在存储层，副作用去重在服务层
type Store interface {
	CreateSession(session *model.TherapySession) error
	GetSessionByID(id string) (*model.TherapySession, error)
	GetActiveSessionByUser(userID string) (*model.TherapySession, error)
	ListSessionsByUser(userID string, offset, limit int) ([]*model.TherapySession, int64, error)
	MarkCompleted(id string, completedAt time.Time, elapsedSeconds int) (bool, error)
	MarkTerminated(id string) (bool, error)
	UpdateElapsed(id string, elapsedSeconds int) error
	SetInsight(id string, insight model.JSON) error
	CreateMessage(msg *model.SessionMessage) error
	GetMessagesBySessionID(sessionID string) ([]*model.SessionMessage, error)
	CountMessages(sessionID string) (int64, error)
	ClearMessages(sessionID string) error
}

// SnapshotReader 暂停快照读取接口
type SnapshotReader interface {
	GetByUserID(userID string) (*model.PausedSnapshot, error)
}

// Service 会话服务
type Service struct {
	store     Store
	snapshots SnapshotReader
	cfg       config.SessionConfig
	bus       *event.Bus
	gen       Generator
	analyzer  *analysis.Analyzer
	alerter   *analysis.Alerter
	orch      *pause.Orchestrator
	monitor   *pause.Monitor

	mu     sync.Mutex
	clocks map[string]*Clock
}

// NewService 创建会话服务
func NewService(
	store Store,
	snapshots SnapshotReader,
	cfg config.SessionConfig,
	bus *event.Bus,
	gen Generator,
	orch *pause.Orchestrator,
) *Service {
	return &Service{
		store:     store,
		snapshots: snapshots,
		cfg:       cfg,
		bus:       bus,
		gen:       gen,
		analyzer:  analysis.NewAnalyzer(),
		alerter:   analysis.NewAlerter(),
		orch:      orch,
		clocks:    make(map[string]*Clock),
	}
}

// SetMonitor 注入活动监视器
// 监视器的暂停回调又指向本服务，装配时后注入避免构造环
func (s *Service) SetMonitor(m *pause.Monitor) {
	s.monitor = m
}

// ResumeOrCreate 返回用户的活跃会话，没有则新建
// 不变式：任何时刻一个用户至多一个 active 会话
func (s *Service) ResumeOrCreate(ctx context.Context, userID string) (*model.TherapySession, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("user id is required")
	}

	existing, err := s.store.GetActiveSessionByUser(userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up active session: %w", err)
	}
	if existing != nil {
		s.ensureClock(existing)
		return existing, false, nil
	}

	session := &model.TherapySession{
		ID:                 uuid.New().String(),
		UserID:             userID,
		Status:             model.SessionActive,
		StartedAt:          time.Now(),
		MaxDurationSeconds: int(s.cfg.MaxDuration / time.Second),
		WarningOffsetSecs:  int(s.cfg.WarningOffset / time.Second),
	}
	if err := s.store.CreateSession(session); err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}

	s.ensureClock(session)
	if s.bus != nil {
		_ = s.bus.Publish(ctx, event.NewEvent(session.ID, userID, event.EventSessionStarted))
	}
	return session, true, nil
}

// Get 获取会话
func (s *Service) Get(ctx context.Context, id string) (*model.TherapySession, error) {
	return s.store.GetSessionByID(id)
}

// List 列出用户会话
func (s *Service) List(ctx context.Context, userID string, offset, limit int) ([]*model.TherapySession, int64, error) {
	return s.store.ListSessionsByUser(userID, offset, limit)
}

// Pause 暂停会话
// 校验归属与状态后交给编排器；时钟停表、触发器清空放在 UI 回调里，
// 无论持久化成败都会执行
func (s *Service) Pause(ctx context.Context, sessionID, userID, reason string, unload bool) bool {
	session, err := s.store.GetSessionByID(sessionID)
	if err != nil {
		log.Printf("[session] pause: failed to load session %s: %v", sessionID, err)
		return false
	}
	if session.UserID != userID || !session.IsActive() {
		return false
	}

	// 用时钟上的最新累计时长覆盖数据库里的旧值
	if clock := s.clock(sessionID); clock != nil {
		session.ElapsedSeconds = int(clock.Elapsed() / time.Second)
	}

	messages, err := s.store.GetMessagesBySessionID(sessionID)
	if err != nil {
		log.Printf("[session] pause: failed to load messages for %s: %v", sessionID, err)
		messages = nil // 没有消息也要继续暂停
	}

	return s.orch.Pause(ctx, &pause.Request{
		Session:  session,
		UserID:   userID,
		Messages: messages,
		Reason:   reason,
		Unload:   unload,
		OnUIUpdate: func() {
			s.haltTracking(sessionID, false)
		},
	})
}

// Resume 恢复已暂停的会话
func (s *Service) Resume(ctx context.Context, sessionID, userID string) (*model.TherapySession, error) {
	session, err := s.store.GetSessionByID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("session does not belong to user")
	}
	if session.Status != model.SessionPaused {
		return nil, fmt.Errorf("session is not paused (status=%s)", session.Status)
	}

	// 恢复前确认没有别的活跃会话，不变式不允许破坏
	active, err := s.store.GetActiveSessionByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}
	if active != nil && active.ID != sessionID {
		return nil, fmt.Errorf("another session is already active")
	}

	if err := s.orch.Resume(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	session.Status = model.SessionActive
	session.PauseReason = ""
	session.PausedAt = nil
	s.ensureClock(session)
	return session, nil
}

// End 完成会话（幂等）
// 时钟到期与手动结束都会走到这里，可能并发到达。IsTerminal 只是
// 快速路径，真正的判定在存储层的条件更新：没赢得迁移的调用
// 跳过事件发布和洞察生成，避免重复副作用
func (s *Service) End(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSessionByID(sessionID)
	if err != nil {
		return fmt.Errorf("session not found: %w", err)
	}
	if session.IsTerminal() {
		return nil
	}

	elapsed := session.ElapsedSeconds
	if clock := s.clock(sessionID); clock != nil {
		elapsed = int(clock.Elapsed() / time.Second)
	}
	s.haltTracking(sessionID, true)

	won, err := s.store.MarkCompleted(sessionID, time.Now(), elapsed)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if !won {
		return nil
	}

	s.alerter.Forget(sessionID)
	if s.bus != nil {
		_ = s.bus.Publish(ctx, event.NewEvent(sessionID, session.UserID, event.EventCompleted))
	}

	// OCEAN 画像只在完成时生成；失败不影响会话状态
	go s.generateInsight(sessionID)
	return nil
}

// Terminate 终止会话
// 与 End 同样依赖存储层条件更新做并发去重
func (s *Service) Terminate(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSessionByID(sessionID)
	if err != nil {
		return fmt.Errorf("session not found: %w", err)
	}
	if session.IsTerminal() {
		return nil
	}

	s.haltTracking(sessionID, true)
	won, err := s.store.MarkTerminated(sessionID)
	if err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	if !won {
		return nil
	}

	s.alerter.Forget(sessionID)
	if s.bus != nil {
		_ = s.bus.Publish(ctx, event.NewEvent(sessionID, session.UserID, event.EventTerminated))
	}
	return nil
}

// SendMessage 追加用户消息并生成助手回复
// 回复失败时用户消息仍然保留
func (s *Service) SendMessage(ctx context.Context, sessionID, userID, content string) (*model.SessionMessage, *model.SessionMessage, error) {
	session, err := s.store.GetSessionByID(sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("session not found: %w", err)
	}
	if session.UserID != userID {
		return nil, nil, fmt.Errorf("session does not belong to user")
	}
	if !session.IsActive() {
		return nil, nil, fmt.Errorf("session is not active (status=%s)", session.Status)
	}

	userMsg := &model.SessionMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      "user",
		Content:   content,
	}
	if err := s.store.CreateMessage(userMsg); err != nil {
		return nil, nil, fmt.Errorf("failed to save message: %w", err)
	}

	messages, err := s.store.GetMessagesBySessionID(sessionID)
	if err != nil {
		return userMsg, nil, fmt.Errorf("failed to load history: %w", err)
	}

	// 每个消息批次重新评估一次治疗进度
	s.evaluateProgress(ctx, session, messages)

	if s.gen == nil {
		return userMsg, nil, fmt.Errorf("ai model is not configured")
	}

	replyText, err := s.gen.Reply(ctx, messages)
	if err != nil {
		return userMsg, nil, fmt.Errorf("failed to generate reply: %w", err)
	}

	assistantMsg := &model.SessionMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      "assistant",
		Content:   replyText,
	}
	if err := s.store.CreateMessage(assistantMsg); err != nil {
		return userMsg, nil, fmt.Errorf("failed to save reply: %w", err)
	}
	return userMsg, assistantMsg, nil
}

// Messages 获取会话消息
func (s *Service) Messages(ctx context.Context, sessionID string) ([]*model.SessionMessage, error) {
	return s.store.GetMessagesBySessionID(sessionID)
}

// ClearMessages 清空会话消息（同时清掉洞察字段）
func (s *Service) ClearMessages(ctx context.Context, sessionID string) error {
	return s.store.ClearMessages(sessionID)
}

// Snapshot 获取用户的暂停快照（"从上次继续"）
func (s *Service) Snapshot(ctx context.Context, userID string) (*model.PausedSnapshot, error) {
	return s.snapshots.GetByUserID(userID)
}

// Report 当前会话的治疗进度报告
func (s *Service) Report(ctx context.Context, sessionID string) (*analysis.Report, error) {
	session, err := s.store.GetSessionByID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}
	messages, err := s.store.GetMessagesBySessionID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	elapsed := time.Duration(session.ElapsedSeconds) * time.Second
	if clock := s.clock(sessionID); clock != nil {
		elapsed = clock.Elapsed()
	}
	return s.analyzer.Analyze(messages, elapsed), nil
}

// HandleSignal 转发环境信号给活动监视器
func (s *Service) HandleSignal(ctx context.Context, sessionID, userID string, sig pause.Signal) {
	if s.monitor == nil {
		return
	}
	s.monitor.HandleSignal(ctx, sessionID, userID, sig)
}

// HandleUnload 页面卸载：返回确认提示文案（无历史时为空串）
func (s *Service) HandleUnload(ctx context.Context, sessionID, userID string) string {
	if s.monitor == nil {
		return ""
	}
	count, err := s.store.CountMessages(sessionID)
	if err != nil {
		count = 0
	}
	return s.monitor.HandleUnload(ctx, sessionID, userID, count > 0)
}

// Dispose 关停服务：销毁所有时钟
func (s *Service) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, clock := range s.clocks {
		clock.Dispose()
		delete(s.clocks, id)
	}
}

// ensureClock 确保会话有一台在走的时钟
func (s *Service) ensureClock(session *model.TherapySession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if clock, ok := s.clocks[session.ID]; ok {
		clock.Resume()
		return
	}

	clock := NewClock(session.ID, time.Duration(session.ElapsedSeconds)*time.Second, ClockOptions{
		TickInterval:  s.cfg.TickInterval,
		MaxDuration:   time.Duration(session.MaxDurationSeconds) * time.Second,
		WarningOffset: time.Duration(session.WarningOffsetSecs) * time.Second,
		OnWarning:     s.onClockWarning,
		OnExpire:      s.onClockExpire,
		OnFlush: func(sessionID string, elapsedSeconds int) {
			if err := s.store.UpdateElapsed(sessionID, elapsedSeconds); err != nil {
				log.Printf("[session] failed to flush elapsed for %s: %v", sessionID, err)
			}
		},
	})
	s.clocks[session.ID] = clock
	clock.Start()
}

// clock 取会话时钟
func (s *Service) clock(sessionID string) *Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clocks[sessionID]
}

// haltTracking 会话离开活跃状态：时钟停表、触发器清空
// terminal 为真时时钟直接销毁并移出注册表
func (s *Service) haltTracking(sessionID string, terminal bool) {
	s.mu.Lock()
	clock := s.clocks[sessionID]
	if terminal {
		delete(s.clocks, sessionID)
	}
	s.mu.Unlock()

	if clock != nil {
		if terminal {
			clock.Stop()
			clock.Dispose()
		} else {
			clock.Pause()
		}
	}
	if s.monitor != nil {
		s.monitor.ClearSession(sessionID)
	}
}

// onClockWarning 时间即将用尽，发一次性提醒
func (s *Service) onClockWarning(sessionID string, elapsed time.Duration) {
	session, err := s.store.GetSessionByID(sessionID)
	if err != nil {
		return
	}
	if s.bus != nil {
		evt := event.NewEvent(sessionID, session.UserID, event.EventWarning)
		evt.Data = "time nearly up"
		_ = s.bus.Publish(context.Background(), evt)
	}
}

// onClockExpire 到达最大时长，结束会话
func (s *Service) onClockExpire(sessionID string, elapsed time.Duration) {
	if err := s.End(context.Background(), sessionID); err != nil {
		log.Printf("[session] failed to end expired session %s: %v", sessionID, err)
	}
}

// evaluateProgress 分析消息批次并按时间窗口产生提示
func (s *Service) evaluateProgress(ctx context.Context, session *model.TherapySession, messages []*model.SessionMessage) {
	elapsed := time.Duration(session.ElapsedSeconds) * time.Second
	if clock := s.clock(session.ID); clock != nil {
		elapsed = clock.Elapsed()
	}

	report := s.analyzer.Analyze(messages, elapsed)
	alert := s.alerter.Evaluate(session.ID, elapsed, report)
	if alert == nil || s.bus == nil {
		return
	}

	evt := event.NewEvent(session.ID, session.UserID, event.EventAlert)
	evt.Data = alert.Prompt
	evt.Metadata = map[string]any{"window": alert.Window}
	_ = s.bus.Publish(ctx, evt)
}

// generateInsight 生成并写入 OCEAN 画像
func (s *Service) generateInsight(sessionID string) {
	if s.gen == nil {
		return
	}

	messages, err := s.store.GetMessagesBySessionID(sessionID)
	if err != nil || len(messages) == 0 {
		return
	}

	profile, err := s.gen.GenerateProfile(context.Background(), messages)
	if err != nil {
		log.Printf("[session] insight generation failed for %s: %v", sessionID, err)
		return
	}
	if err := s.store.SetInsight(sessionID, profile); err != nil {
		log.Printf("[session] failed to store insight for %s: %v", sessionID, err)
	}
}
