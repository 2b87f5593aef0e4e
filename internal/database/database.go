// Package database 负责 Postgres 连接的建立与生命周期
// 会话、消息、快照和用户表都在这一个库里，启动时自动迁移
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/EmiMaldonado/glaub-session-api/internal/config"
	"github.com/EmiMaldonado/glaub-session-api/internal/model"
)

// pingTimeout 启动时连通性探测的超时
const pingTimeout = 5 * time.Second

// DB 包装 gorm 连接，补上关闭与健康检查
type DB struct {
	*gorm.DB
}

// New 建连、配置连接池并迁移表结构
// 任何一步失败都视为启动失败，不提供降级
func New(cfg *config.Config) (*DB, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.AutoMigrate(model.AllModels...); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	log.Printf("[database] connected, %d models migrated", len(model.AllModels))

	return &DB{DB: db}, nil
}

// open 打开 gorm 连接
// 时间戳统一用本地时间写入，与 elapsed_seconds 的秒级计数对齐
func open(cfg *config.Config) (*gorm.DB, error) {
	logLevel := gormlogger.Silent
	if cfg.App.Debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

// Close 关闭底层连接池
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 健康检查入口使用
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
