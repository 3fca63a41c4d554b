package repository

import (
	"context"
	"errors"

	"bidparty/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RollupRepository 全局聚合仓储
// 维护媒体全局榜单和用户-媒体两张聚合表，懒创建 + 增量更新，
// 写法与 PartyMediaRepository.AddBid 保持一致
type RollupRepository struct {
	db *gorm.DB
}

func NewRollupRepository(db *gorm.DB) *RollupRepository {
	return &RollupRepository{db: db}
}

// AddMediaBid 累加媒体全局聚合（不区分竞价范围）
func (r *RollupRepository) AddMediaBid(ctx context.Context, tx *gorm.DB, mediaID string, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.MediaRollup{}).
		Where("media_id = ?", mediaID).
		Updates(map[string]interface{}{
			"aggregate": gorm.Expr("aggregate + ?", amount),
			"top_bid":   gorm.Expr("CASE WHEN top_bid < ? THEN ? ELSE top_bid END", amount, amount),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		return nil
	}

	// 首笔出价，懒创建；并发建行由唯一索引兜底，冲突后重走增量
	rollup := &model.MediaRollup{
		MediaID:   mediaID,
		Aggregate: amount,
		TopBid:    amount,
	}
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "media_id"}},
			DoNothing: true,
		}).
		Create(rollup).Error
	if err != nil {
		return err
	}
	if rollup.ID != 0 {
		return nil
	}

	return r.AddMediaBid(ctx, tx, mediaID, amount)
}

// AddUserMediaBid 累加用户-媒体聚合
func (r *RollupRepository) AddUserMediaBid(ctx context.Context, tx *gorm.DB, userID int64, mediaID string, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.UserMediaRollup{}).
		Where("user_id = ? AND media_id = ?", userID, mediaID).
		Updates(map[string]interface{}{
			"aggregate": gorm.Expr("aggregate + ?", amount),
			"top_bid":   gorm.Expr("CASE WHEN top_bid < ? THEN ? ELSE top_bid END", amount, amount),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		return nil
	}

	rollup := &model.UserMediaRollup{
		UserID:    userID,
		MediaID:   mediaID,
		Aggregate: amount,
		TopBid:    amount,
	}
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "media_id"}},
			DoNothing: true,
		}).
		Create(rollup).Error
	if err != nil {
		return err
	}
	if rollup.ID != 0 {
		return nil
	}

	return r.AddUserMediaBid(ctx, tx, userID, mediaID, amount)
}

// GetMediaRollup 查询媒体全局聚合，未出过价返回 (nil, nil)
func (r *RollupRepository) GetMediaRollup(ctx context.Context, mediaID string) (*model.MediaRollup, error) {
	var rollup model.MediaRollup
	err := r.db.WithContext(ctx).Where("media_id = ?", mediaID).First(&rollup).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rollup, nil
}

// GetUserMediaRollup 查询用户-媒体聚合，未出过价返回 (nil, nil)
func (r *RollupRepository) GetUserMediaRollup(ctx context.Context, userID int64, mediaID string) (*model.UserMediaRollup, error) {
	var rollup model.UserMediaRollup
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND media_id = ?", userID, mediaID).
		First(&rollup).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rollup, nil
}

// TopMedia 全局榜单前 N
func (r *RollupRepository) TopMedia(ctx context.Context, limit int) ([]*model.MediaRollup, error) {
	var rollups []*model.MediaRollup
	err := r.db.WithContext(ctx).
		Order("aggregate DESC").
		Order("media_id ASC").
		Limit(limit).
		Find(&rollups).Error
	return rollups, err
}
