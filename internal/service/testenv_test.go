package service

import (
	"fmt"
	"sync"
	"testing"

	"bidparty/internal/config"
	"bidparty/internal/hub"
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

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				BidResult:    "bidparty-bid-result-test",
				Notification: "bidparty-notification-test",
			},
		},
		Auth: config.AuthConfig{JWTSecret: "test-secret"},
		Business: config.BusinessConfig{
			HighValueBidPence:       10000,
			PartyMaxDurationMinutes: 360,
			MaxRetryCount:           3,
		},
	}
}

// eventRecorder 记录总线上经过的全部事件
type eventRecorder struct {
	mu     sync.Mutex
	events []hub.Event
}

func (r *eventRecorder) record(ev hub.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) countKind(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) lastOfKind(kind string) hub.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind() == kind {
			return r.events[i]
		}
	}
	return nil
}

func newTestBus() (*hub.LocalBus, *eventRecorder) {
	bus := hub.NewLocalBus()
	rec := &eventRecorder{}
	bus.AddHandler(rec.record)
	return bus, rec
}
