package model

import (
	"time"
)

// ============================================================================
// 派对内媒体条目状态常量
// ============================================================================

const (
	PartyMediaStatusQueued  = "QUEUED"  // 在队列中，参与排序
	PartyMediaStatusPlaying = "PLAYING" // 正在播放（每个派对最多一条）
	PartyMediaStatusPlayed  = "PLAYED"  // 已播放
	PartyMediaStatusVetoed  = "VETOED"  // 被否决，移出队列但保留记录（可恢复）
)

// PartyMedia 派对内媒体条目表
// 每个 (party_id, media_id) 组合一行，首次对该媒体出价时创建
//
// 【重要】aggregate / top_bid 只由聚合器在竞价事务内做增量更新，
// 热路径上绝不全表扫描重算；status 迁移只由派对状态机驱动
type PartyMedia struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PartyID     int64      `gorm:"uniqueIndex:uk_party_media;not null" json:"party_id"`
	MediaID     string     `gorm:"type:varchar(64);uniqueIndex:uk_party_media;not null" json:"media_id"`
	MediaTitle  string     `gorm:"type:varchar(256)" json:"media_title"`  // 展示用快照
	MediaArtist string     `gorm:"type:varchar(256)" json:"media_artist"` // 展示用快照
	Aggregate   int64      `gorm:"not null;default:0" json:"aggregate"`   // 本派对该媒体的 party 范围出价总额
	TopBid      int64      `gorm:"not null;default:0" json:"top_bid"`     // 单笔最高出价
	Status      string     `gorm:"type:varchar(20);index;not null" json:"status"`
	QueuedAt    time.Time  `gorm:"not null;index" json:"queued_at"` // 入队时间，同额平局时先到先得
	PlayedAt    *time.Time `json:"played_at"`
	VetoedAt    *time.Time `json:"vetoed_at"`
	VetoedBy    *int64     `json:"vetoed_by"` // 否决操作人
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PartyMedia) TableName() string {
	return "party_media"
}
