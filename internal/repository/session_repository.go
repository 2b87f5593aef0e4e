package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/EmiMaldonado/glaub-session-api/internal/model"
)

// SessionRepository 会话数据访问
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession 创建会话
func (r *SessionRepository) CreateSession(session *model.TherapySession) error {
	return r.db.Create(session).Error
}

// GetSessionByID 获取会话
func (r *SessionRepository) GetSessionByID(id string) (*model.TherapySession, error) {
	var session model.TherapySession
	err := r.db.Where("id = ?", id).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetActiveSessionByUser 获取用户当前活跃会话
// 不存在时返回 (nil, nil)
func (r *SessionRepository) GetActiveSessionByUser(userID string) (*model.TherapySession, error) {
	var session model.TherapySession
	err := r.db.Where("user_id = ? AND status = ?", userID, model.SessionActive).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// ListSessionsByUser 列出用户会话
func (r *SessionRepository) ListSessionsByUser(userID string, offset, limit int) ([]*model.TherapySession, int64, error) {
	var sessions []*model.TherapySession
	var total int64

	query := r.db.Model(&model.TherapySession{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&sessions).Error
	return sessions, total, err
}

// UpdateSession 更新会话
func (r *SessionRepository) UpdateSession(session *model.TherapySession) error {
	return r.db.Save(session).Error
}

// UpdateStatus 更新会话状态
func (r *SessionRepository) UpdateStatus(id, status string) error {
	return r.db.Model(&model.TherapySession{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// MarkPaused 标记会话为暂停
func (r *SessionRepository) MarkPaused(id, reason string, pausedAt time.Time, elapsedSeconds int) error {
	return r.db.Model(&model.TherapySession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          model.SessionPaused,
			"pause_reason":    reason,
			"paused_at":       pausedAt,
			"elapsed_seconds": elapsedSeconds,
		}).Error
}

// MarkResumed 标记会话恢复为活跃
func (r *SessionRepository) MarkResumed(id string) error {
	return r.db.Model(&model.TherapySession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.SessionActive,
			"pause_reason": "",
			"paused_at":    nil,
		}).Error
}

// MarkCompleted 标记会话完成
// 幂等：已处于终态的会话不会被改写。返回值指出本次调用是否真的
// 完成了状态迁移——时钟到期和手动结束可能在同一秒先后到达，
// 输掉竞争的一方必须据此跳过事件和洞察等副作用
func (r *SessionRepository) MarkCompleted(id string, completedAt time.Time, elapsedSeconds int) (bool, error) {
	result := r.db.Model(&model.TherapySession{}).
		Where("id = ? AND status NOT IN ?", id, []string{model.SessionCompleted, model.SessionTerminated}).
		Updates(map[string]interface{}{
			"status":          model.SessionCompleted,
			"completed_at":    completedAt,
			"elapsed_seconds": elapsedSeconds,
		})
	return result.RowsAffected > 0, result.Error
}

// MarkTerminated 标记会话终止
// 与 MarkCompleted 同样用 RowsAffected 区分真迁移和重复调用
func (r *SessionRepository) MarkTerminated(id string) (bool, error) {
	result := r.db.Model(&model.TherapySession{}).
		Where("id = ? AND status NOT IN ?", id, []string{model.SessionCompleted, model.SessionTerminated}).
		Update("status", model.SessionTerminated)
	return result.RowsAffected > 0, result.Error
}

// UpdateElapsed 回写累计时长
func (r *SessionRepository) UpdateElapsed(id string, elapsedSeconds int) error {
	return r.db.Model(&model.TherapySession{}).
		Where("id = ?", id).
		Update("elapsed_seconds", elapsedSeconds).Error
}

// SetInsight 写入洞察载荷（仅完成时调用）
func (r *SessionRepository) SetInsight(id string, insight model.JSON) error {
	return r.db.Model(&model.TherapySession{}).
		Where("id = ?", id).
		Update("insight", insight).Error
}

// CreateMessage 创建消息
func (r *SessionRepository) CreateMessage(msg *model.SessionMessage) error {
	return r.db.Create(msg).Error
}

// GetMessagesBySessionID 获取会话消息（按创建时间升序）
func (r *SessionRepository) GetMessagesBySessionID(sessionID string) ([]*model.SessionMessage, error) {
	var messages []*model.SessionMessage
	err := r.db.Where("session_id = ?", sessionID).Order("created_at ASC").Find(&messages).Error
	return messages, err
}

// CountMessages 统计会话消息数
func (r *SessionRepository) CountMessages(sessionID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.SessionMessage{}).Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}

// ClearMessages 批量清空会话消息
// 同一事务内清掉会话上附带的洞察字段
func (r *SessionRepository) ClearMessages(sessionID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.SessionMessage{}, "session_id = ?", sessionID).Error; err != nil {
			return err
		}
		return tx.Model(&model.TherapySession{}).
			Where("id = ?", sessionID).
			Update("insight", nil).Error
	})
}
