// Package repository 定义数据访问层
// 接口抽象使依赖注入和单元测试成为可能
package repository

import "gorm.io/gorm"

// Repositories 仓库集合，用于统一管理所有仓库
type Repositories struct {
	DB       *gorm.DB // 直接访问数据库
	Session  *SessionRepository
	Snapshot *SnapshotRepository
	Auth     *AuthRepository
}

// NewRepositories 创建所有仓库
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:       db,
		Session:  NewSessionRepository(db),
		Snapshot: NewSnapshotRepository(db),
		Auth:     NewAuthRepository(db),
	}
}
