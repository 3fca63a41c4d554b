package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"bidparty/internal/config"
	"bidparty/internal/hub"
	"bidparty/internal/model"
	"bidparty/internal/repository"
	"bidparty/pkg/idgen"

	"gorm.io/gorm"
)

// LedgerService 账本服务
// 余额读与入账走这里；竞价扣款在 BidService 的事务里直接调用
// AccountRepository.Debit，保证与竞价记录/聚合更新同事务
type LedgerService struct {
	db              *gorm.DB
	cfg             *config.Config
	bus             hub.Bus
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewLedgerService(db *gorm.DB, cfg *config.Config, bus hub.Bus) *LedgerService {
	return &LedgerService{
		db:              db,
		cfg:             cfg,
		bus:             bus,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		if err == repository.ErrAccountNotFound {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

func (s *LedgerService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accountRepo.GetOrCreate(ctx, userID)
}

// Credit 入账（充值/补偿/内测赠送）
// 入账永不因余额失败，但金额必须是正整数；
// 余额变动事件在事务提交之后才发布
func (s *LedgerService) Credit(ctx context.Context, userID int64, amount int64, reason string) error {
	if amount <= 0 {
		return repository.ErrInvalidCredit
	}

	if _, err := s.accountRepo.GetOrCreate(ctx, userID); err != nil {
		return err
	}

	creditNo := idgen.GenerateCreditNo()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.Credit(ctx, tx, userID, amount); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}

		// 事务内回读权威余额，并发入账时流水的前后值仍然精确
		newBalance, err := s.accountRepo.GetBalanceTx(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("回读余额失败: %w", err)
		}

		transaction := &model.AccountTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        userID,
			RefNo:         creditNo,
			Amount:        amount,
			Type:          model.TransactionTypeCredit,
			BalanceBefore: newBalance - amount,
			BalanceAfter:  newBalance,
			Remark:        fmt.Sprintf("入账-%s", reason),
		}
		if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		return nil
	})

	if err != nil {
		return err
	}

	log.Printf("入账成功: creditNo=%s, userID=%d, amount=%d, reason=%s", creditNo, userID, amount, reason)

	// 提交之后才广播，订阅方收到事件后直接读余额一定不旧于事件
	s.publishBalance(ctx, userID)

	return nil
}

// Refund 补偿退款
// 竞价记录不可变，撤销一笔竞价就是按原竞价单号做一笔新的入账流水
func (s *LedgerService) Refund(ctx context.Context, userID int64, amount int64, bidNo string, reason string) error {
	if amount <= 0 {
		return repository.ErrInvalidCredit
	}

	if _, err := s.accountRepo.GetByUserID(ctx, userID); err != nil {
		return err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.Credit(ctx, tx, userID, amount); err != nil {
			return fmt.Errorf("退款到账失败: %w", err)
		}

		newBalance, err := s.accountRepo.GetBalanceTx(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("回读余额失败: %w", err)
		}

		transaction := &model.AccountTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        userID,
			RefNo:         bidNo,
			Amount:        amount,
			Type:          model.TransactionTypeRefund,
			BalanceBefore: newBalance - amount,
			BalanceAfter:  newBalance,
			Remark:        fmt.Sprintf("补偿退款-%s", reason),
		}
		if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"user_id":     userID,
			"amount":      amount,
			"bid_no":      bidNo,
			"reason":      reason,
			"refunded_at": time.Now().Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: bidNo,
			Topic:      s.cfg.Kafka.Topic.Notification,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		return nil
	})

	if err != nil {
		return err
	}

	log.Printf("补偿退款成功: bidNo=%s, userID=%d, amount=%d", bidNo, userID, amount)

	s.publishBalance(ctx, userID)

	return nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}

// publishBalance 广播最新余额，失败只记日志
func (s *LedgerService) publishBalance(ctx context.Context, userID int64) {
	if s.bus == nil {
		return
	}
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		log.Printf("查询余额失败，跳过余额广播: userID=%d, err=%v", userID, err)
		return
	}
	if err := s.bus.Publish(ctx, hub.BalanceChangedEvent{UserID: userID, NewBalance: balance}); err != nil {
		log.Printf("余额事件广播失败: userID=%d, err=%v", userID, err)
	}
}
