package database

import (
	"fmt"

	"github.com/wfunc/word-duel/internal/logger"
	"github.com/wfunc/word-duel/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// migrationModels 需要迁移的模型
func migrationModels() []interface{} {
	return []interface{}{
		&models.SessionSnapshot{},
	}
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("数据库未初始化")
	}

	logger.Info("开始数据库迁移...")

	for _, model := range migrationModels() {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
	}

	logger.Info("数据库迁移完成")
	return nil
}
