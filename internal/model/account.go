package model

import (
	"time"
)

// Account 用户账户表
// 记录用户的便士余额，是整个竞价系统的资金核心
// 余额只能通过 Ledger（AccountRepository）的条件更新变动，
// 业务代码禁止直接赋值，保证 balance >= 0 恒成立
type Account struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64     `gorm:"uniqueIndex;not null" json:"user_id"`     // 用户ID，业务方传入
	Balance      int64     `gorm:"not null;default:0" json:"balance"`       // 可用余额（便士，整数最小货币单位）
	FrozenAmount int64     `gorm:"not null;default:0" json:"frozen_amount"` // 冻结金额（预留，暂不使用）
	Version      int       `gorm:"not null;default:0" json:"version"`       // 乐观锁版本号
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
