package model

import (
	"time"
)

// ============================================================================
// 派对生命周期常量
// ============================================================================

const (
	PartyStatusScheduled = "SCHEDULED" // 已排期，未开始
	PartyStatusActive    = "ACTIVE"    // 进行中
	PartyStatusEnded     = "ENDED"     // 已结束（终态）
)

// ValidPartyTransitions 派对状态机合法迁移表
// ENDED 是终态，任何状态都可以进入（End 操作幂等）
var ValidPartyTransitions = map[string][]string{
	PartyStatusScheduled: {PartyStatusActive, PartyStatusEnded},
	PartyStatusActive:    {PartyStatusEnded},
}

// CanPartyTransitionTo 校验派对状态迁移是否合法
func CanPartyTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidPartyTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ============================================================================
// 播放状态常量
// ============================================================================

const (
	PlaybackStatePlaying = "PLAYING"
	PlaybackStatePaused  = "PAUSED"
)

// ============================================================================
// 播放控制指令
// ============================================================================

const (
	PlaybackCommandPlay         = "play"
	PlaybackCommandPause        = "pause"
	PlaybackCommandSkipNext     = "skip_next"
	PlaybackCommandSkipPrevious = "skip_previous"
)

// ValidPlaybackCommand 校验播放控制指令是否合法
func ValidPlaybackCommand(cmd string) bool {
	switch cmd {
	case PlaybackCommandPlay, PlaybackCommandPause,
		PlaybackCommandSkipNext, PlaybackCommandSkipPrevious:
		return true
	}
	return false
}

// Party 派对表
// 一个房间级别的竞价会话：生命周期 SCHEDULED -> ACTIVE -> ENDED
// 同一时刻最多一个主持人（host_id），只有主持人可以下发播放控制指令
// current_media_id 只在 ACTIVE 期间有值，指向当前播放的媒体
type Party struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string     `gorm:"type:varchar(128);not null" json:"name"`
	HostID         int64      `gorm:"index;not null" json:"host_id"`                     // 当前主持人
	Status         string     `gorm:"type:varchar(20);index;not null" json:"status"`     // 生命周期状态
	PlaybackState  string     `gorm:"type:varchar(20);not null" json:"playback_state"`   // PLAYING | PAUSED
	CurrentMediaID *string    `gorm:"type:varchar(64)" json:"current_media_id"`          // 当前播放媒体（可空）
	ScheduledAt    time.Time  `gorm:"not null" json:"scheduled_at"`                      // 排期开始时间
	StartedAt      *time.Time `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Party) TableName() string {
	return "party"
}

// Ended 派对是否已结束
func (p *Party) Ended() bool {
	return p.Status == PartyStatusEnded
}
