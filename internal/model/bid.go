package model

import (
	"time"
)

// ============================================================================
// 竞价范围常量
// ============================================================================

const (
	BidScopeParty  = "party"  // 计入派对队列排序
	BidScopeGlobal = "global" // 只计入全局榜单，不影响派对队列
)

// ValidBidScope 校验竞价范围是否合法
func ValidBidScope(scope string) bool {
	return scope == BidScopeParty || scope == BidScopeGlobal
}

// Bid 竞价记录表
//
// 【重要】竞价记录一经落库即不可变：
// 1. 不提供更新/删除操作 —— 审计可信，聚合器只处理增量
// 2. 撤销只能通过新的补偿流水（REFUND），不回滚原记录
// 3. request_id 全局唯一 —— 客户端重试同一请求不会重复扣款
//
// 冗余快照字段（user_name/party_name/media_title 等）在下单时刻写入，
// 供离线分析直接使用，查询时无需回表关联
type Bid struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	BidNo     string `gorm:"type:varchar(64);uniqueIndex;not null" json:"bid_no"`     // 竞价单号（全局唯一）
	RequestID string `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"` // 幂等ID，客户端生成
	UserID    int64  `gorm:"index;not null" json:"user_id"`                           // 出价用户
	PartyID   int64  `gorm:"index;not null" json:"party_id"`                          // 所属派对
	MediaID   string `gorm:"type:varchar(64);index;not null" json:"media_id"`         // 媒体ID（媒体目录子系统提供）
	Amount    int64  `gorm:"not null" json:"amount"`                                  // 出价金额（便士，> 0）
	Scope     string `gorm:"type:varchar(10);not null" json:"scope"`                  // party | global

	// 下单时刻快照
	UserName      string `gorm:"type:varchar(64)" json:"user_name"`     // 出价人昵称
	PartyName     string `gorm:"type:varchar(128)" json:"party_name"`   // 派对名称
	MediaTitle    string `gorm:"type:varchar(256)" json:"media_title"`  // 媒体标题
	MediaArtist   string `gorm:"type:varchar(256)" json:"media_artist"` // 艺人
	QueuePosition int    `gorm:"not null;default:0" json:"queue_position"`
	QueueSize     int    `gorm:"not null;default:0" json:"queue_size"`
	DayOfWeek     int    `gorm:"not null;default:0" json:"day_of_week"` // 0=周日
	HourOfDay     int    `gorm:"not null;default:0" json:"hour_of_day"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Bid) TableName() string {
	return "bid"
}
