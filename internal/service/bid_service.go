package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"bidparty/internal/config"
	"bidparty/internal/hub"
	"bidparty/internal/infrastructure/lock"
	"bidparty/internal/model"
	"bidparty/internal/repository"
	"bidparty/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	BidStatusAccepted  = "ACCEPTED"
	BidStatusDuplicate = "DUPLICATE"
)

// BidService 竞价服务，整条出价管线的入口
type BidService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	bus             hub.Bus
	queueService    *QueueService
	bidRepo         *repository.BidRepository
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	partyRepo       *repository.PartyRepository
	partyMediaRepo  *repository.PartyMediaRepository
	rollupRepo      *repository.RollupRepository
	outboxRepo      *repository.OutboxRepository
}

func NewBidService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, bus hub.Bus) *BidService {
	return &BidService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		bus:             bus,
		queueService:    NewQueueService(db, cfg, bus),
		bidRepo:         repository.NewBidRepository(db),
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		partyRepo:       repository.NewPartyRepository(db),
		partyMediaRepo:  repository.NewPartyMediaRepository(db),
		rollupRepo:      repository.NewRollupRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

type PlaceBidRequest struct {
	RequestID   string `json:"request_id" binding:"required"` // 幂等ID，客户端生成
	UserID      int64  `json:"user_id" binding:"required"`
	UserName    string `json:"user_name"`
	PartyID     int64  `json:"party_id" binding:"required"`
	MediaID     string `json:"media_id" binding:"required"` // 媒体目录子系统解析好的媒体ID
	MediaTitle  string `json:"media_title"`
	MediaArtist string `json:"media_artist"`
	Amount      int64  `json:"amount" binding:"required,gt=0"` // 便士
	Scope       string `json:"scope" binding:"required"`       // party | global
}

type PlaceBidResponse struct {
	BidNo      string `json:"bid_no"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	NewBalance int64  `json:"new_balance"`
	Message    string `json:"message,omitempty"`
}

// PlaceBid 出价
// POST 管线：幂等校验 -> 分布式锁 -> 单事务（条件扣款 + 流水 + 竞价记录
// + 三路聚合增量 + 发件箱）-> 提交后广播余额与队列
//
// 【关键点】出价是整个系统最核心的操作，需要保证：
// 1. 幂等性：相同的 request_id 只会扣款一次，重放返回首次结果
// 2. 原子性：扣款、竞价记录、聚合更新必须同时成功或同时失败
// 3. 余额不变量：扣款是单条条件 UPDATE，任何并发交错下余额不会为负
func (s *BidService) PlaceBid(ctx context.Context, req *PlaceBidRequest) (*PlaceBidResponse, error) {
	if req.Amount <= 0 || !model.ValidBidScope(req.Scope) {
		return nil, repository.ErrInvalidBid
	}

	// 派对必须存在且未结束（未开始的派对允许提前出价攒队列）
	party, err := s.partyRepo.GetByID(ctx, req.PartyID)
	if err != nil {
		return nil, err
	}
	if party.Ended() {
		return nil, repository.ErrPartyEnded
	}

	// 幂等校验
	if resp, err := s.lookupDuplicate(ctx, req.RequestID); err != nil || resp != nil {
		return resp, err
	}

	// 获取分布式锁（按用户维度），把同一用户的并发出价串行化
	if s.redisClient != nil {
		bidLock := lock.NewBidLock(s.redisClient, req.UserID, req.RequestID)
		if err := bidLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer bidLock.Unlock(ctx)

		// 获取锁后再次检查幂等
		if resp, err := s.lookupDuplicate(ctx, req.RequestID); err != nil || resp != nil {
			return resp, err
		}
	}

	account, err := s.accountRepo.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("获取账户信息失败: %w", err)
	}

	if account.Balance < req.Amount {
		// 预判拒绝，省一次必然失败的事务；条件扣款仍是最终防线
		s.notifyInsufficientFunds(ctx, req)
		return nil, repository.ErrBalanceNotEnough
	}

	// 出价时刻的队列快照，冗余进竞价记录供离线分析
	queueSnapshot, err := s.partyMediaRepo.GetOrderedQueue(ctx, nil, req.PartyID)
	if err != nil {
		return nil, fmt.Errorf("读取队列快照失败: %w", err)
	}
	queuePosition := len(queueSnapshot) + 1
	for i, e := range queueSnapshot {
		if e.MediaID == req.MediaID {
			queuePosition = i + 1
			break
		}
	}

	bidNo := idgen.GenerateBidNo()
	now := time.Now()

	bid := &model.Bid{
		BidNo:         bidNo,
		RequestID:     req.RequestID,
		UserID:        req.UserID,
		PartyID:       req.PartyID,
		MediaID:       req.MediaID,
		Amount:        req.Amount,
		Scope:         req.Scope,
		UserName:      req.UserName,
		PartyName:     party.Name,
		MediaTitle:    req.MediaTitle,
		MediaArtist:   req.MediaArtist,
		QueuePosition: queuePosition,
		QueueSize:     len(queueSnapshot),
		DayOfWeek:     int(now.Weekday()),
		HourOfDay:     now.Hour(),
	}

	// 执行竞价事务
	var newBalance int64
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.Debit(ctx, tx, req.UserID, req.Amount, account.Version); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return repository.ErrBalanceNotEnough
			}
			if errors.Is(err, repository.ErrOptimisticLock) {
				return repository.ErrOptimisticLock
			}
			return fmt.Errorf("扣款失败: %w", err)
		}

		// 事务内回读扣款后的权威余额做流水前后值
		balance, err := s.accountRepo.GetBalanceTx(ctx, tx, req.UserID)
		if err != nil {
			return fmt.Errorf("回读余额失败: %w", err)
		}
		newBalance = balance

		transaction := &model.AccountTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        req.UserID,
			RefNo:         bidNo,
			Amount:        -req.Amount,
			Type:          model.TransactionTypeBid,
			BalanceBefore: newBalance + req.Amount,
			BalanceAfter:  newBalance,
			Remark:        fmt.Sprintf("竞价-%d-%s", req.PartyID, req.MediaID),
		}
		if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		// 竞价记录落库，request_id 唯一索引是幂等的最终防线
		if err := s.bidRepo.Append(ctx, tx, bid); err != nil {
			return fmt.Errorf("记录竞价失败: %w", err)
		}

		// 三路聚合增量更新，与竞价记录同事务 ——
		// 事务回滚时聚合一并回滚，重放的 BidID 不可能二次累加
		if req.Scope == model.BidScopeParty {
			if _, err := s.partyMediaRepo.GetOrCreate(ctx, tx, req.PartyID, req.MediaID, req.MediaTitle, req.MediaArtist); err != nil {
				return fmt.Errorf("创建队列条目失败: %w", err)
			}
			if err := s.partyMediaRepo.AddBid(ctx, tx, req.PartyID, req.MediaID, req.Amount); err != nil {
				return fmt.Errorf("更新派对聚合失败: %w", err)
			}
		}
		if err := s.rollupRepo.AddMediaBid(ctx, tx, req.MediaID, req.Amount); err != nil {
			return fmt.Errorf("更新全局聚合失败: %w", err)
		}
		if err := s.rollupRepo.AddUserMediaBid(ctx, tx, req.UserID, req.MediaID, req.Amount); err != nil {
			return fmt.Errorf("更新用户聚合失败: %w", err)
		}

		// 竞价结果消息走发件箱
		msgPayload := map[string]interface{}{
			"bid_no":   bidNo,
			"user_id":  req.UserID,
			"party_id": req.PartyID,
			"media_id": req.MediaID,
			"amount":   req.Amount,
			"scope":    req.Scope,
			"bid_at":   now.Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: bidNo,
			Topic:      s.cfg.Kafka.Topic.BidResult,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		// 高额出价通知钩子
		if s.cfg.Business.HighValueBidPence > 0 && req.Amount >= s.cfg.Business.HighValueBidPence {
			notifyPayload, _ := json.Marshal(map[string]interface{}{
				"event":    "high_value_bid",
				"bid_no":   bidNo,
				"user_id":  req.UserID,
				"party_id": req.PartyID,
				"media_id": req.MediaID,
				"amount":   req.Amount,
			})
			notifyMsg := &model.OutboxMessage{
				MessageKey: bidNo,
				Topic:      s.cfg.Kafka.Topic.Notification,
				Payload:    string(notifyPayload),
				Status:     model.OutboxStatusPending,
			}
			if err := s.outboxRepo.Create(ctx, tx, notifyMsg); err != nil {
				return fmt.Errorf("写入通知消息失败: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotEnough) {
			s.notifyInsufficientFunds(ctx, req)
		}
		return nil, err
	}

	log.Printf("出价成功: bidNo=%s, userID=%d, partyID=%d, mediaID=%s, amount=%d, scope=%s",
		bidNo, req.UserID, req.PartyID, req.MediaID, req.Amount, req.Scope)

	// 提交之后才广播：余额推给本人，队列推给派对房间
	if s.bus != nil {
		if err := s.bus.Publish(ctx, hub.BalanceChangedEvent{
			UserID:     req.UserID,
			NewBalance: newBalance,
		}); err != nil {
			log.Printf("余额事件广播失败: userID=%d, err=%v", req.UserID, err)
		}
	}
	if req.Scope == model.BidScopeParty {
		s.queueService.PublishQueue(ctx, req.PartyID)
	}

	return &PlaceBidResponse{
		BidNo:      bidNo,
		Status:     BidStatusAccepted,
		Amount:     req.Amount,
		NewBalance: newBalance,
		Message:    "出价成功",
	}, nil
}

// lookupDuplicate 幂等查询：request_id 已存在即视为成功重放，
// 返回首次受理的结果，不再扣款
func (s *BidService) lookupDuplicate(ctx context.Context, requestID string) (*PlaceBidResponse, error) {
	existing, err := s.bidRepo.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("查询竞价记录失败: %w", err)
	}
	if existing == nil {
		return nil, nil
	}

	balance, err := s.accountRepo.GetByUserID(ctx, existing.UserID)
	if err != nil {
		return nil, err
	}

	return &PlaceBidResponse{
		BidNo:      existing.BidNo,
		Status:     BidStatusDuplicate,
		Amount:     existing.Amount,
		NewBalance: balance.Balance,
		Message:    "重复请求，返回原受理结果",
	}, nil
}

// notifyInsufficientFunds 余额不足拒绝的通知钩子
// 拒绝本身没有事务，消息直接落发件箱；失败只记日志
func (s *BidService) notifyInsufficientFunds(ctx context.Context, req *PlaceBidRequest) {
	payload, _ := json.Marshal(map[string]interface{}{
		"event":    "insufficient_funds",
		"user_id":  req.UserID,
		"party_id": req.PartyID,
		"media_id": req.MediaID,
		"amount":   req.Amount,
	})
	msg := &model.OutboxMessage{
		MessageKey: req.RequestID,
		Topic:      s.cfg.Kafka.Topic.Notification,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, nil, msg); err != nil {
		log.Printf("写入余额不足通知失败: userID=%d, err=%v", req.UserID, err)
	}
}

func (s *BidService) ListUserBids(ctx context.Context, userID int64, page, pageSize int) ([]*model.Bid, int64, error) {
	return s.bidRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *BidService) ListPartyBids(ctx context.Context, partyID int64, page, pageSize int) ([]*model.Bid, int64, error) {
	return s.bidRepo.ListByParty(ctx, partyID, page, pageSize)
}
