package model

import "time"

// 会话状态
// 状态迁移单向推进，只有 active <-> paused 允许往返
const (
	SessionActive     = "active"
	SessionPaused     = "paused"
	SessionCompleted  = "completed"
	SessionTerminated = "terminated"
)

// 暂停原因
const (
	PauseReasonManual     = "manual"
	PauseReasonAuto       = "auto"
	PauseReasonNetwork    = "network"
	PauseReasonVisibility = "visibility"
)

// SnapshotSchemaVersion 快照结构版本号
// 持久化的快照是封闭结构，升级字段时递增
const SnapshotSchemaVersion = 1

// TherapySession 治疗会话
type TherapySession struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:36"`
	UserID             string    `json:"user_id" gorm:"index;size:36"`
	Status             string    `json:"status" gorm:"index;size:20;default:active"`
	StartedAt          time.Time `json:"started_at"`
	ElapsedSeconds     int       `json:"elapsed_seconds" gorm:"default:0"`
	MaxDurationSeconds int       `json:"max_duration_seconds"`
	WarningOffsetSecs  int       `json:"warning_offset_seconds"`
	PauseReason        string    `json:"pause_reason,omitempty" gorm:"size:20"`
	PausedAt           *time.Time `json:"paused_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	// Insight 仅在会话完成时写入（OCEAN 五因子向量）
	Insight   JSON      `json:"insight,omitempty"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Messages []SessionMessage `json:"messages,omitempty" gorm:"foreignKey:SessionID"`
}

// SessionMessage 会话消息
// 创建后不可变，按创建时间排序；仅支持整会话批量清空
type SessionMessage struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	SessionID string    `json:"session_id" gorm:"index;size:36"`
	Role      string    `json:"role" gorm:"size:20;index"` // user, assistant
	Content   string    `json:"content" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// PausedSnapshot 暂停时刻的会话快照
// 每个用户至多一份（user_id 唯一），新的暂停覆盖旧的
type PausedSnapshot struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	UserID        string    `json:"user_id" gorm:"uniqueIndex;size:36"`
	SessionID     string    `json:"session_id" gorm:"index;size:36"`
	SchemaVersion int       `json:"schema_version" gorm:"default:1"`
	Messages      JSON      `json:"messages"`
	Context       JSON      `json:"context"` // topic, concerns, phase, progress, next_steps
	PauseReason   string    `json:"pause_reason" gorm:"size:20"`
	PausedAt      time.Time `json:"paused_at"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (TherapySession) TableName() string {
	return "therapy_sessions"
}

func (SessionMessage) TableName() string {
	return "session_messages"
}

func (PausedSnapshot) TableName() string {
	return "paused_snapshots"
}

// IsActive 会话是否处于活跃状态
func (s *TherapySession) IsActive() bool {
	return s.Status == SessionActive
}

// IsTerminal 会话是否已进入终态
func (s *TherapySession) IsTerminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionTerminated
}
