package repository

import (
	"context"
	"errors"
	"time"

	"bidparty/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPartyNotFound      = errors.New("派对不存在")
	ErrPartyEnded         = errors.New("派对已结束")
	ErrPartyStatusInvalid = errors.New("派对状态不合法")
)

// PartyRepository 派对仓储
// 状态迁移沿用订单状态机的做法：WHERE status = 期望值 的条件 UPDATE，
// RowsAffected == 0 即迁移竞争失败，绝不先读后写
type PartyRepository struct {
	db *gorm.DB
}

func NewPartyRepository(db *gorm.DB) *PartyRepository {
	return &PartyRepository{db: db}
}

func (r *PartyRepository) Create(ctx context.Context, party *model.Party) error {
	return r.db.WithContext(ctx).Create(party).Error
}

func (r *PartyRepository) GetByID(ctx context.Context, partyID int64) (*model.Party, error) {
	var party model.Party
	err := r.db.WithContext(ctx).Where("id = ?", partyID).First(&party).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPartyNotFound
		}
		return nil, err
	}
	return &party, nil
}

// UpdateStatus 条件状态迁移
func (r *PartyRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, partyID int64, fromStatus, toStatus string) error {
	if !model.CanPartyTransitionTo(fromStatus, toStatus) {
		return ErrPartyStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	now := time.Now()
	switch toStatus {
	case model.PartyStatusActive:
		updates["started_at"] = &now
	case model.PartyStatusEnded:
		updates["ended_at"] = &now
		// 结束时清空播放指针，playing 指针只在 ACTIVE 期间有意义
		updates["current_media_id"] = nil
	}

	result := tx.WithContext(ctx).
		Model(&model.Party{}).
		Where("id = ? AND status = ?", partyID, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrPartyStatusInvalid
	}

	return nil
}

// SetHost 指定主持人，后写覆盖
// 终态派对拒绝换主持人，条件放进 WHERE 避免读写竞态
func (r *PartyRepository) SetHost(ctx context.Context, partyID int64, hostID int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.Party{}).
		Where("id = ? AND status <> ?", partyID, model.PartyStatusEnded).
		Update("host_id", hostID)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		party, err := r.GetByID(ctx, partyID)
		if err != nil {
			return err
		}
		if party.Ended() {
			return ErrPartyEnded
		}
		// 状态未结束但没改到行，说明 host_id 本来就是目标值，视为成功
	}

	return nil
}

// SetPlayback 更新播放状态与当前媒体指针，只在 ACTIVE 期间允许
func (r *PartyRepository) SetPlayback(ctx context.Context, tx *gorm.DB, partyID int64, state string, currentMediaID *string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Party{}).
		Where("id = ? AND status = ?", partyID, model.PartyStatusActive).
		Updates(map[string]interface{}{
			"playback_state":   state,
			"current_media_id": currentMediaID,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrPartyStatusInvalid
	}

	return nil
}

// GetDueScheduled 查询已到排期时间但还未开始的派对
func (r *PartyRepository) GetDueScheduled(ctx context.Context, limit int) ([]*model.Party, error) {
	var parties []*model.Party
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at < ?", model.PartyStatusScheduled, time.Now()).
		Limit(limit).
		Find(&parties).Error
	return parties, err
}

// GetStaleActive 查询超过最长持续时间的进行中派对
func (r *PartyRepository) GetStaleActive(ctx context.Context, startedBefore time.Time, limit int) ([]*model.Party, error) {
	var parties []*model.Party
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", model.PartyStatusActive, startedBefore).
		Limit(limit).
		Find(&parties).Error
	return parties, err
}

func (r *PartyRepository) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.Party, int64, error) {
	var parties []*model.Party
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Party{}).Where("status = ?", status)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&parties).Error

	return parties, total, err
}
