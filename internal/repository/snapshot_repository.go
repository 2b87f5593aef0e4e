package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/EmiMaldonado/glaub-session-api/internal/model"
)

// SnapshotRepository 暂停快照数据访问
type SnapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository 创建快照仓库
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Upsert 按用户 upsert 快照
// 每个用户至多一份快照，后写覆盖先写
func (r *SnapshotRepository) Upsert(snapshot *model.PausedSnapshot) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"session_id", "schema_version", "messages", "context",
			"pause_reason", "paused_at", "updated_at",
		}),
	}).Create(snapshot).Error
}

// GetByUserID 获取用户快照
// 不存在时返回 (nil, nil)
func (r *SnapshotRepository) GetByUserID(userID string) (*model.PausedSnapshot, error) {
	var snapshot model.PausedSnapshot
	err := r.db.Where("user_id = ?", userID).First(&snapshot).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

// DeleteByUserID 删除用户快照
func (r *SnapshotRepository) DeleteByUserID(userID string) error {
	return r.db.Delete(&model.PausedSnapshot{}, "user_id = ?", userID).Error
}
