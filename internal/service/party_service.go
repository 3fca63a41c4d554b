package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bidparty/internal/config"
	"bidparty/internal/hub"
	"bidparty/internal/model"
	"bidparty/internal/repository"

	"gorm.io/gorm"
)

var ErrNoPreviousMedia = errors.New("没有可回退的已播放条目")

// PartyService 派对状态机
// 管生命周期（SCHEDULED -> ACTIVE -> ENDED）、playing 指针和
// 主持人门禁：播放控制指令只接受当前主持人下发
type PartyService struct {
	db             *gorm.DB
	cfg            *config.Config
	bus            hub.Bus
	queueService   *QueueService
	partyRepo      *repository.PartyRepository
	partyMediaRepo *repository.PartyMediaRepository
}

func NewPartyService(db *gorm.DB, cfg *config.Config, bus hub.Bus) *PartyService {
	return &PartyService{
		db:             db,
		cfg:            cfg,
		bus:            bus,
		queueService:   NewQueueService(db, cfg, bus),
		partyRepo:      repository.NewPartyRepository(db),
		partyMediaRepo: repository.NewPartyMediaRepository(db),
	}
}

type CreatePartyRequest struct {
	Name        string    `json:"name" binding:"required"`
	HostID      int64     `json:"host_id" binding:"required"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// CreateParty 创建派对，初始状态 SCHEDULED
func (s *PartyService) CreateParty(ctx context.Context, req *CreatePartyRequest) (*model.Party, error) {
	scheduledAt := req.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}

	party := &model.Party{
		Name:          req.Name,
		HostID:        req.HostID,
		Status:        model.PartyStatusScheduled,
		PlaybackState: model.PlaybackStatePaused,
		ScheduledAt:   scheduledAt,
	}

	if err := s.partyRepo.Create(ctx, party); err != nil {
		return nil, err
	}

	log.Printf("派对已创建: partyID=%d, name=%s, hostID=%d", party.ID, party.Name, party.HostID)
	return party, nil
}

func (s *PartyService) GetParty(ctx context.Context, partyID int64) (*model.Party, error) {
	return s.partyRepo.GetByID(ctx, partyID)
}

// ListPartyMedia 派对全部条目（含已播放/被否决），供详情页使用
func (s *PartyService) ListPartyMedia(ctx context.Context, partyID int64) ([]*model.PartyMedia, error) {
	return s.partyMediaRepo.ListByParty(ctx, partyID)
}

// Start 开始派对：SCHEDULED -> ACTIVE
func (s *PartyService) Start(ctx context.Context, partyID int64) error {
	err := s.partyRepo.UpdateStatus(ctx, nil, partyID, model.PartyStatusScheduled, model.PartyStatusActive)
	if err != nil {
		return err
	}

	log.Printf("派对已开始: partyID=%d", partyID)

	s.publishPlayback(ctx, partyID, model.PlaybackStatePaused, nil)
	return nil
}

// End 结束派对（终态）
//
// 【关键点】End 幂等：结束一个已结束的派对是 no-op 而不是错误，
// 网络重试不应该给调用方制造假失败
func (s *PartyService) End(ctx context.Context, partyID int64) error {
	party, err := s.partyRepo.GetByID(ctx, partyID)
	if err != nil {
		return err
	}
	if party.Ended() {
		return nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 正在播放的条目收尾成 PLAYED，保持"最多一条 PLAYING"不变量
		playing, err := s.partyMediaRepo.GetPlaying(ctx, partyID)
		if err != nil {
			return err
		}
		if playing != nil {
			if err := s.partyMediaRepo.UpdateStatus(ctx, tx, partyID, playing.MediaID,
				model.PartyMediaStatusPlaying, model.PartyMediaStatusPlayed, nil); err != nil {
				return err
			}
		}

		if err := s.partyRepo.UpdateStatus(ctx, tx, partyID, party.Status, model.PartyStatusEnded); err != nil {
			// 并发 End 竞争输了也算成功，再查一次确认终态
			current, getErr := s.partyRepo.GetByID(ctx, partyID)
			if getErr == nil && current.Ended() {
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("派对已结束: partyID=%d", partyID)

	s.publishPlayback(ctx, partyID, "ENDED", nil)
	return nil
}

// SetHost 指定主持人，后写覆盖
// 覆盖现任主持人时记日志留痕（沿用后写覆盖语义，是否需要交接确认
// 属产品决策，见 DESIGN.md）
func (s *PartyService) SetHost(ctx context.Context, partyID int64, hostID int64) error {
	party, err := s.partyRepo.GetByID(ctx, partyID)
	if err != nil {
		return err
	}

	if err := s.partyRepo.SetHost(ctx, partyID, hostID); err != nil {
		return err
	}

	if party.HostID != 0 && party.HostID != hostID {
		log.Printf("主持人已被覆盖: partyID=%d, oldHost=%d, newHost=%d", partyID, party.HostID, hostID)
	}
	return nil
}

// PlaybackCommand 播放控制指令入口（实现 hub.PlaybackDispatcher）
//
// 【关键点】主持人门禁：issuer 不是当前主持人时返回 ErrNotHost，
// 只回给发起方，不产生任何广播
func (s *PartyService) PlaybackCommand(ctx context.Context, partyID, issuerID int64, command string) error {
	if !model.ValidPlaybackCommand(command) {
		return fmt.Errorf("未知的播放指令: %s", command)
	}

	party, err := s.partyRepo.GetByID(ctx, partyID)
	if err != nil {
		return err
	}
	if party.Ended() {
		return repository.ErrPartyEnded
	}
	if party.HostID != issuerID {
		log.Printf("拒绝非主持人的播放指令: partyID=%d, issuerID=%d, hostID=%d, command=%s",
			partyID, issuerID, party.HostID, command)
		return ErrNotHost
	}

	switch command {
	case model.PlaybackCommandPlay:
		return s.play(ctx, party)
	case model.PlaybackCommandPause:
		return s.pause(ctx, party)
	case model.PlaybackCommandSkipNext:
		return s.skipNext(ctx, party)
	case model.PlaybackCommandSkipPrevious:
		return s.skipPrevious(ctx, party)
	}
	return nil
}

// play 恢复播放；没有正在播放的条目时把队首提升为 PLAYING
func (s *PartyService) play(ctx context.Context, party *model.Party) error {
	playing, err := s.partyMediaRepo.GetPlaying(ctx, party.ID)
	if err != nil {
		return err
	}

	promoted := false
	var mediaID *string

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if playing == nil {
			queue, err := s.partyMediaRepo.GetOrderedQueue(ctx, tx, party.ID)
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				return repository.ErrMediaNotFound
			}
			head := queue[0]
			if err := s.partyMediaRepo.UpdateStatus(ctx, tx, party.ID, head.MediaID,
				model.PartyMediaStatusQueued, model.PartyMediaStatusPlaying, nil); err != nil {
				return err
			}
			mediaID = &head.MediaID
			promoted = true
		} else {
			mediaID = &playing.MediaID
		}

		return s.partyRepo.SetPlayback(ctx, tx, party.ID, model.PlaybackStatePlaying, mediaID)
	})
	if err != nil {
		return err
	}

	s.publishPlayback(ctx, party.ID, model.PlaybackStatePlaying, mediaID)
	if promoted {
		s.queueService.PublishQueue(ctx, party.ID)
	}
	return nil
}

func (s *PartyService) pause(ctx context.Context, party *model.Party) error {
	if err := s.partyRepo.SetPlayback(ctx, nil, party.ID, model.PlaybackStatePaused, party.CurrentMediaID); err != nil {
		return err
	}
	s.publishPlayback(ctx, party.ID, model.PlaybackStatePaused, party.CurrentMediaID)
	return nil
}

// skipNext 当前条目收尾，队首顶上
// 队列空了就停在 PAUSED、playing 指针置空
func (s *PartyService) skipNext(ctx context.Context, party *model.Party) error {
	var nextMediaID *string
	state := model.PlaybackStatePaused

	err := s.db.Transaction(func(tx *gorm.DB) error {
		playing, err := s.partyMediaRepo.GetPlaying(ctx, party.ID)
		if err != nil {
			return err
		}
		if playing != nil {
			if err := s.partyMediaRepo.UpdateStatus(ctx, tx, party.ID, playing.MediaID,
				model.PartyMediaStatusPlaying, model.PartyMediaStatusPlayed, nil); err != nil {
				return err
			}
		}

		queue, err := s.partyMediaRepo.GetOrderedQueue(ctx, tx, party.ID)
		if err != nil {
			return err
		}
		if len(queue) > 0 {
			head := queue[0]
			if err := s.partyMediaRepo.UpdateStatus(ctx, tx, party.ID, head.MediaID,
				model.PartyMediaStatusQueued, model.PartyMediaStatusPlaying, nil); err != nil {
				return err
			}
			nextMediaID = &head.MediaID
			state = model.PlaybackStatePlaying
		}

		return s.partyRepo.SetPlayback(ctx, tx, party.ID, state, nextMediaID)
	})
	if err != nil {
		return err
	}

	log.Printf("跳到下一条: partyID=%d", party.ID)

	s.publishPlayback(ctx, party.ID, state, nextMediaID)
	s.queueService.PublishQueue(ctx, party.ID)
	return nil
}

// skipPrevious 回到最近一条已播放条目
// 当前播放条目带着聚合额回队列（queued_at 不变，回到按额应在的位置）
func (s *PartyService) skipPrevious(ctx context.Context, party *model.Party) error {
	var prevMediaID *string

	err := s.db.Transaction(func(tx *gorm.DB) error {
		prev, err := s.partyMediaRepo.GetLastPlayed(ctx, party.ID)
		if err != nil {
			return err
		}
		if prev == nil {
			return ErrNoPreviousMedia
		}

		playing, err := s.partyMediaRepo.GetPlaying(ctx, party.ID)
		if err != nil {
			return err
		}
		if playing != nil {
			if err := s.partyMediaRepo.UpdateStatus(ctx, tx, party.ID, playing.MediaID,
				model.PartyMediaStatusPlaying, model.PartyMediaStatusQueued, nil); err != nil {
				return err
			}
		}

		if err := s.partyMediaRepo.UpdateStatus(ctx, tx, party.ID, prev.MediaID,
			model.PartyMediaStatusPlayed, model.PartyMediaStatusPlaying, nil); err != nil {
			return err
		}

		prevMediaID = &prev.MediaID
		return s.partyRepo.SetPlayback(ctx, tx, party.ID, model.PlaybackStatePlaying, prevMediaID)
	})
	if err != nil {
		return err
	}

	log.Printf("回到上一条: partyID=%d", party.ID)

	s.publishPlayback(ctx, party.ID, model.PlaybackStatePlaying, prevMediaID)
	s.queueService.PublishQueue(ctx, party.ID)
	return nil
}

// publishPlayback 广播播放状态，失败只记日志
func (s *PartyService) publishPlayback(ctx context.Context, partyID int64, status string, mediaID *string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, hub.PlaybackStateEvent{
		PartyID:        partyID,
		Status:         status,
		CurrentMediaID: mediaID,
	}); err != nil {
		log.Printf("播放状态广播失败: partyID=%d, err=%v", partyID, err)
	}
}
