package model

import (
	"time"
)

// MediaRollup 媒体全局聚合表
// 跨所有派对、所有竞价范围（party + global）的出价总额与单笔最高
// 首次对该媒体出价时懒创建，之后只做增量更新
type MediaRollup struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MediaID   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"media_id"`
	Aggregate int64     `gorm:"not null;default:0" json:"aggregate"`
	TopBid    int64     `gorm:"not null;default:0" json:"top_bid"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MediaRollup) TableName() string {
	return "media_rollup"
}

// UserMediaRollup 用户-媒体聚合表
// 回答"这个用户在这首媒体上总共投了多少钱"
type UserMediaRollup struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex:uk_user_media;not null" json:"user_id"`
	MediaID   string    `gorm:"type:varchar(64);uniqueIndex:uk_user_media;not null" json:"media_id"`
	Aggregate int64     `gorm:"not null;default:0" json:"aggregate"`
	TopBid    int64     `gorm:"not null;default:0" json:"top_bid"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserMediaRollup) TableName() string {
	return "user_media_rollup"
}
