package repository

import (
	"context"
	"errors"

	"bidparty/internal/model"

	"gorm.io/gorm"
)

var (
	ErrInvalidBid       = errors.New("竞价参数不合法")
	ErrDuplicateRequest = errors.New("重复请求")
)

// BidRepository 竞价记录仓储
// 只暴露 Append 和查询，不提供更新/删除 —— 竞价记录不可变，
// 撤销通过新的补偿入账实现，聚合器因此只需处理严格增量
type BidRepository struct {
	db *gorm.DB
}

func NewBidRepository(db *gorm.DB) *BidRepository {
	return &BidRepository{db: db}
}

// Append 追加一条竞价记录
// request_id / bid_no 上的唯一索引是幂等的最终防线：
// 同一 BidID 的重放在这里被数据库拒绝，整个事务回滚，聚合不会二次累加
func (r *BidRepository) Append(ctx context.Context, tx *gorm.DB, bid *model.Bid) error {
	if bid.Amount <= 0 || !model.ValidBidScope(bid.Scope) {
		return ErrInvalidBid
	}

	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(bid).Error
}

// GetByRequestID 按幂等ID查询，未找到返回 (nil, nil)
func (r *BidRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Bid, error) {
	var bid model.Bid
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&bid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bid, nil
}

func (r *BidRepository) GetByBidNo(ctx context.Context, bidNo string) (*model.Bid, error) {
	var bid model.Bid
	err := r.db.WithContext(ctx).Where("bid_no = ?", bidNo).First(&bid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bid, nil
}

func (r *BidRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Bid, int64, error) {
	var bids []*model.Bid
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Bid{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&bids).Error

	return bids, total, err
}

func (r *BidRepository) ListByParty(ctx context.Context, partyID int64, page, pageSize int) ([]*model.Bid, int64, error) {
	var bids []*model.Bid
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Bid{}).Where("party_id = ?", partyID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&bids).Error

	return bids, total, err
}
