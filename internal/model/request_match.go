package model

import (
	"time"

	"gorm.io/gorm"
)

// MatchStatus 配对状态。
type MatchStatus int

const (
	MatchPending   MatchStatus = iota // 已登记配对，等待献血完成
	MatchCompleted                    // 献血已完成并入库履约
)

// RequestMatch 用血申请与献血预约的配对记录。
// (BloodRequestID, DonationRequestID) 上存在 Pending 配对即视为已登记，
// 后台轮询重复执行时据此去重，不会重复建配对。
type RequestMatch struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	BloodRequestID    uint        `gorm:"not null;index:idx_match_pair" json:"blood_request_id"`
	DonationRequestID uint        `gorm:"not null;index:idx_match_pair" json:"donation_request_id"`
	MatchStatus       MatchStatus `gorm:"not null;default:0;index" json:"match_status"`
	ScheduledDate     time.Time   `json:"scheduled_date"`
	Notes             string      `gorm:"size:512" json:"notes"`
	Type              string      `gorm:"size:32" json:"type"`
}

func (RequestMatch) TableName() string { return "request_matches" }
