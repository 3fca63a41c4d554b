package repository

import (
	"fmt"
	"testing"

	"bidparty/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 每个测试独立的内存库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}

	err = db.AutoMigrate(
		&model.Account{},
		&model.AccountTransaction{},
		&model.Bid{},
		&model.Party{},
		&model.PartyMedia{},
		&model.MediaRollup{},
		&model.UserMediaRollup{},
		&model.OutboxMessage{},
	)
	if err != nil {
		t.Fatalf("建表失败: %v", err)
	}

	return db
}
