package job

import (
	"context"
	"log"
	"time"

	"bidparty/internal/config"
	"bidparty/internal/repository"
	"bidparty/internal/service"

	"gorm.io/gorm"
)

// PartyLifecycleJob 派对生命周期任务
// 两件事：到点的 SCHEDULED 派对自动开始；ACTIVE 超过最大时长的
// 派对自动结束。状态转换走 PartyService，广播语义与手动操作一致
type PartyLifecycleJob struct {
	db        *gorm.DB
	partyRepo *repository.PartyRepository
	partySvc  *service.PartyService
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewPartyLifecycleJob(db *gorm.DB, cfg *config.Config, partySvc *service.PartyService) *PartyLifecycleJob {
	return &PartyLifecycleJob{
		db:        db,
		partyRepo: repository.NewPartyRepository(db),
		partySvc:  partySvc,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  10 * time.Second,
		batchSize: 100,
	}
}

func (j *PartyLifecycleJob) Start(ctx context.Context) {
	log.Println("[PartyLifecycleJob] 派对生命周期任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PartyLifecycleJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[PartyLifecycleJob] 任务停止")
			return
		case <-ticker.C:
			j.startDueParties(ctx)
			j.endStaleParties(ctx)
		}
	}
}

func (j *PartyLifecycleJob) Stop() {
	close(j.stopCh)
}

// startDueParties 到点的 SCHEDULED 派对自动开始
func (j *PartyLifecycleJob) startDueParties(ctx context.Context) {
	parties, err := j.partyRepo.GetDueScheduled(ctx, j.batchSize)
	if err != nil {
		log.Printf("[PartyLifecycleJob] 查询到点派对失败: %v", err)
		return
	}

	for _, party := range parties {
		if err := j.partySvc.Start(ctx, party.ID); err != nil {
			// 条件更新输给并发的手动 Start 也会走到这里，无害
			log.Printf("[PartyLifecycleJob] 自动开始派对失败: partyID=%d, err=%v", party.ID, err)
			continue
		}
		log.Printf("[PartyLifecycleJob] 派对已自动开始: partyID=%d, name=%s", party.ID, party.Name)
	}
}

// endStaleParties ACTIVE 超过最大时长的派对自动结束
func (j *PartyLifecycleJob) endStaleParties(ctx context.Context) {
	maxDuration := time.Duration(j.cfg.Business.PartyMaxDurationMinutes) * time.Minute
	if maxDuration <= 0 {
		return
	}

	startedBefore := time.Now().Add(-maxDuration)
	parties, err := j.partyRepo.GetStaleActive(ctx, startedBefore, j.batchSize)
	if err != nil {
		log.Printf("[PartyLifecycleJob] 查询超时派对失败: %v", err)
		return
	}

	for _, party := range parties {
		if err := j.partySvc.End(ctx, party.ID); err != nil {
			log.Printf("[PartyLifecycleJob] 自动结束派对失败: partyID=%d, err=%v", party.ID, err)
			continue
		}
		log.Printf("[PartyLifecycleJob] 派对已超时自动结束: partyID=%d, name=%s", party.ID, party.Name)
	}
}
