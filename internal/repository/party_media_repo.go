package repository

import (
	"context"
	"errors"
	"time"

	"bidparty/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrMediaNotFound      = errors.New("派对中不存在该媒体")
	ErrMediaStatusInvalid = errors.New("媒体条目状态不合法")
)

// PartyMediaRepository 派对内媒体条目仓储
// aggregate / top_bid 只通过 AddBid 做增量更新（聚合器的存储层），
// status 只通过 UpdateStatus 条件迁移（队列引擎/状态机的存储层）
type PartyMediaRepository struct {
	db *gorm.DB
}

func NewPartyMediaRepository(db *gorm.DB) *PartyMediaRepository {
	return &PartyMediaRepository{db: db}
}

// GetOrCreate 取出条目，不存在则以 QUEUED 状态创建
// 首次对 (party, media) 出价时建行，OnConflict DoNothing 容忍并发建行竞争
func (r *PartyMediaRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, partyID int64, mediaID, title, artist string) (*model.PartyMedia, error) {
	if tx == nil {
		tx = r.db
	}

	entry, err := r.getByPartyAndMedia(ctx, tx, partyID, mediaID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ErrMediaNotFound) {
		return nil, err
	}

	newEntry := &model.PartyMedia{
		PartyID:     partyID,
		MediaID:     mediaID,
		MediaTitle:  title,
		MediaArtist: artist,
		Status:      model.PartyMediaStatusQueued,
		QueuedAt:    time.Now(),
	}

	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "party_id"}, {Name: "media_id"}},
			DoNothing: true,
		}).
		Create(newEntry).Error
	if err != nil {
		return nil, err
	}

	return r.getByPartyAndMedia(ctx, tx, partyID, mediaID)
}

func (r *PartyMediaRepository) getByPartyAndMedia(ctx context.Context, tx *gorm.DB, partyID int64, mediaID string) (*model.PartyMedia, error) {
	var entry model.PartyMedia
	err := tx.WithContext(ctx).
		Where("party_id = ? AND media_id = ?", partyID, mediaID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMediaNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (r *PartyMediaRepository) GetByPartyAndMedia(ctx context.Context, partyID int64, mediaID string) (*model.PartyMedia, error) {
	return r.getByPartyAndMedia(ctx, r.db, partyID, mediaID)
}

// AddBid 增量累加聚合值
//
// 【关键点】聚合字段永远是 UPDATE ... SET aggregate = aggregate + ? 的增量写，
// top_bid 用 CASE WHEN 在同一条语句里取较大值，热路径上没有读-改-写窗口
func (r *PartyMediaRepository) AddBid(ctx context.Context, tx *gorm.DB, partyID int64, mediaID string, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.PartyMedia{}).
		Where("party_id = ? AND media_id = ?", partyID, mediaID).
		Updates(map[string]interface{}{
			"aggregate": gorm.Expr("aggregate + ?", amount),
			"top_bid":   gorm.Expr("CASE WHEN top_bid < ? THEN ? ELSE top_bid END", amount, amount),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrMediaNotFound
	}

	return nil
}

// UpdateStatus 条目状态条件迁移，附带迁移时间戳
// vetoedBy 只在迁移到 VETOED 时有意义
func (r *PartyMediaRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, partyID int64, mediaID string, fromStatus, toStatus string, vetoedBy *int64) error {
	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	now := time.Now()
	switch toStatus {
	case model.PartyMediaStatusPlayed:
		updates["played_at"] = &now
	case model.PartyMediaStatusVetoed:
		updates["vetoed_at"] = &now
		updates["vetoed_by"] = vetoedBy
	case model.PartyMediaStatusQueued:
		// 恢复入队时清掉否决痕迹，queued_at 保持原值，
		// 条目回到按聚合额应在的位置而不是队尾
		updates["vetoed_at"] = nil
		updates["vetoed_by"] = nil
	}

	result := tx.WithContext(ctx).
		Model(&model.PartyMedia{}).
		Where("party_id = ? AND media_id = ? AND status = ?", partyID, mediaID, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrMediaStatusInvalid
	}

	return nil
}

// GetOrderedQueue 取派对的有序队列
// 排序规则：聚合额降序 -> 入队时间升序（先到先得）-> media_id 升序兜底，
// 三级排序保证结果完全确定，便于测试和客户端对账
func (r *PartyMediaRepository) GetOrderedQueue(ctx context.Context, tx *gorm.DB, partyID int64) ([]*model.PartyMedia, error) {
	if tx == nil {
		tx = r.db
	}

	var entries []*model.PartyMedia
	err := tx.WithContext(ctx).
		Where("party_id = ? AND status = ?", partyID, model.PartyMediaStatusQueued).
		Order("aggregate DESC").
		Order("queued_at ASC").
		Order("media_id ASC").
		Find(&entries).Error
	return entries, err
}

// ListByParty 取派对全部条目（含已播放/被否决），供派对详情使用
func (r *PartyMediaRepository) ListByParty(ctx context.Context, partyID int64) ([]*model.PartyMedia, error) {
	var entries []*model.PartyMedia
	err := r.db.WithContext(ctx).
		Where("party_id = ?", partyID).
		Order("aggregate DESC").
		Order("queued_at ASC").
		Order("media_id ASC").
		Find(&entries).Error
	return entries, err
}

// GetPlaying 取当前播放条目，不存在返回 (nil, nil)
// 不变量：每个派对最多一条 PLAYING
func (r *PartyMediaRepository) GetPlaying(ctx context.Context, partyID int64) (*model.PartyMedia, error) {
	var entry model.PartyMedia
	err := r.db.WithContext(ctx).
		Where("party_id = ? AND status = ?", partyID, model.PartyMediaStatusPlaying).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// GetLastPlayed 取最近一条已播放条目（skip_previous 用），不存在返回 (nil, nil)
func (r *PartyMediaRepository) GetLastPlayed(ctx context.Context, partyID int64) (*model.PartyMedia, error) {
	var entry model.PartyMedia
	err := r.db.WithContext(ctx).
		Where("party_id = ? AND status = ?", partyID, model.PartyMediaStatusPlayed).
		Order("played_at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}
