package repository

import (
	"context"
	"errors"

	"bidparty/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
	ErrInvalidCredit    = errors.New("入账金额必须大于0")
)

// AccountRepository 账户仓储（Ledger）
// 余额的唯一写入口。扣款是单条条件 UPDATE，"检查余额"和"扣减"
// 不允许拆成两步 —— 两步写法在并发下会把余额扣成负数
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetBalanceTx 事务视角下的权威余额
// 扣款/入账之后、写流水之前在同事务内回读，并发更新时
// 流水的 before/after 仍然精确衔接
func (r *AccountRepository) GetBalanceTx(ctx context.Context, tx *gorm.DB, userID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}

	var account model.Account
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return account.Balance, nil
}

// Debit 条件扣款
//
// 【关键点】WHERE balance >= ? 把"余额检查"和"扣减"合并成一条原子语句，
// RowsAffected == 0 时再回查区分是余额不足还是版本号冲突
func (r *AccountRepository) Debit(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if account.Balance < amount {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

// Credit 无条件入账
// 入账永远不会因余额原因失败，但金额必须是正整数
func (r *AccountRepository) Credit(ctx context.Context, tx *gorm.DB, userID int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidCredit
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64) (*model.Account, error) {
	account, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		UserID:  userID,
		Balance: 0,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}
