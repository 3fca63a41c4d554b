package service

import (
	"context"
	"errors"
	"log"

	"bidparty/internal/config"
	"bidparty/internal/hub"
	"bidparty/internal/model"
	"bidparty/internal/repository"

	"gorm.io/gorm"
)

var ErrNotHost = errors.New("只有主持人可以执行该操作")

// QueueService 队列排序引擎
// 从聚合表派生派对的有序播放队列：聚合额降序、同额先入队者在前、
// media_id 兜底，保证任何时刻排序结果完全确定
type QueueService struct {
	db             *gorm.DB
	cfg            *config.Config
	bus            hub.Bus
	partyRepo      *repository.PartyRepository
	partyMediaRepo *repository.PartyMediaRepository
	rollupRepo     *repository.RollupRepository
}

func NewQueueService(db *gorm.DB, cfg *config.Config, bus hub.Bus) *QueueService {
	return &QueueService{
		db:             db,
		cfg:            cfg,
		bus:            bus,
		partyRepo:      repository.NewPartyRepository(db),
		partyMediaRepo: repository.NewPartyMediaRepository(db),
		rollupRepo:     repository.NewRollupRepository(db),
	}
}

// OrderedQueue 取派对有序队列（只含 QUEUED 条目，被否决的不出现）
func (s *QueueService) OrderedQueue(ctx context.Context, partyID int64) ([]*model.PartyMedia, error) {
	return s.partyMediaRepo.GetOrderedQueue(ctx, nil, partyID)
}

// MediaTotals 单个媒体在派对内的聚合视图
type MediaTotals struct {
	Aggregate int64 `json:"aggregate"`
	TopBid    int64 `json:"top_bid"`
}

// PartyMediaTotals 派对内全部媒体的聚合额与单笔最高
// 读路径直接走聚合表，绝不扫竞价表重算
func (s *QueueService) PartyMediaTotals(ctx context.Context, partyID int64) (map[string]MediaTotals, error) {
	entries, err := s.partyMediaRepo.ListByParty(ctx, partyID)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]MediaTotals, len(entries))
	for _, e := range entries {
		totals[e.MediaID] = MediaTotals{Aggregate: e.Aggregate, TopBid: e.TopBid}
	}
	return totals, nil
}

// MediaRollup 媒体全局聚合（跨派对、跨竞价范围）
func (s *QueueService) MediaRollup(ctx context.Context, mediaID string) (*model.MediaRollup, error) {
	return s.rollupRepo.GetMediaRollup(ctx, mediaID)
}

// UserMediaTotal 用户在单个媒体上的累计出价
func (s *QueueService) UserMediaTotal(ctx context.Context, userID int64, mediaID string) (*model.UserMediaRollup, error) {
	return s.rollupRepo.GetUserMediaRollup(ctx, userID, mediaID)
}

// Veto 否决一个队列条目（主持人专属）
// 条目移出队列但保留记录和聚合值，之后可以 Restore 恢复
func (s *QueueService) Veto(ctx context.Context, partyID int64, mediaID string, issuerID int64) error {
	party, err := s.partyRepo.GetByID(ctx, partyID)
	if err != nil {
		return err
	}
	if party.Ended() {
		return repository.ErrPartyEnded
	}
	if party.HostID != issuerID {
		log.Printf("拒绝非主持人的否决操作: partyID=%d, issuerID=%d, hostID=%d", partyID, issuerID, party.HostID)
		return ErrNotHost
	}

	err = s.partyMediaRepo.UpdateStatus(ctx, nil, partyID, mediaID,
		model.PartyMediaStatusQueued, model.PartyMediaStatusVetoed, &issuerID)
	if err != nil {
		return err
	}

	log.Printf("条目已否决: partyID=%d, mediaID=%s, by=%d", partyID, mediaID, issuerID)

	// 状态已提交，同一逻辑步骤内重算并广播队列
	s.PublishQueue(ctx, partyID)

	return nil
}

// Restore 恢复被否决的条目（主持人专属）
// 条目带着原聚合额回到队列中按额应在的位置，不是排到队尾
func (s *QueueService) Restore(ctx context.Context, partyID int64, mediaID string, issuerID int64) error {
	party, err := s.partyRepo.GetByID(ctx, partyID)
	if err != nil {
		return err
	}
	if party.Ended() {
		return repository.ErrPartyEnded
	}
	if party.HostID != issuerID {
		log.Printf("拒绝非主持人的恢复操作: partyID=%d, issuerID=%d, hostID=%d", partyID, issuerID, party.HostID)
		return ErrNotHost
	}

	err = s.partyMediaRepo.UpdateStatus(ctx, nil, partyID, mediaID,
		model.PartyMediaStatusVetoed, model.PartyMediaStatusQueued, nil)
	if err != nil {
		return err
	}

	log.Printf("条目已恢复入队: partyID=%d, mediaID=%s, by=%d", partyID, mediaID, issuerID)

	s.PublishQueue(ctx, partyID)

	return nil
}

// PublishQueue 重新读取有序队列并广播
// 先提交后广播：订阅方收到事件后再读 OrderedQueue，结果不会旧于事件
func (s *QueueService) PublishQueue(ctx context.Context, partyID int64) {
	if s.bus == nil {
		return
	}

	entries, err := s.partyMediaRepo.GetOrderedQueue(ctx, nil, partyID)
	if err != nil {
		log.Printf("读取队列失败，跳过广播: partyID=%d, err=%v", partyID, err)
		return
	}

	queue := make([]hub.QueueEntry, 0, len(entries))
	for _, e := range entries {
		queue = append(queue, hub.QueueEntry{
			MediaID:     e.MediaID,
			MediaTitle:  e.MediaTitle,
			MediaArtist: e.MediaArtist,
			Aggregate:   e.Aggregate,
			TopBid:      e.TopBid,
			QueuedAt:    e.QueuedAt,
		})
	}

	if err := s.bus.Publish(ctx, hub.QueueUpdatedEvent{PartyID: partyID, Queue: queue}); err != nil {
		// 广播失败不影响已提交的写，只记日志
		log.Printf("队列事件广播失败: partyID=%d, err=%v", partyID, err)
	}
}
