package model

import (
	"time"

	"gorm.io/gorm"
)

// DonationStatus 描述献血预约的状态机，数值沿用原有编号。
type DonationStatus int

const (
	DonationPending   DonationStatus = iota // 已预约、待确认
	DonationConfirmed                       // 已确认，可被匹配给用血申请
	DonationCompleted                       // 采血完成，等待入库处理
	DonationCancelled                       // 已取消（终态）
	DonationStocked                         // 已入库（终态）
)

// DonationRequest 献血预约单。
// Confirmed 状态是配对候选；Completed 状态是入库处理器的触发条件，
// 每条献血最多被入库处理一次（由入库处理器的幂等守卫保证）。
type DonationRequest struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID           *int64         `gorm:"index" json:"user_id,omitempty"`
	BloodTypeID      uint           `gorm:"not null;index:idx_donation_blood" json:"blood_type_id"`
	BloodComponentID uint           `gorm:"not null;index:idx_donation_blood" json:"blood_component_id"`
	Quantity         int            `gorm:"not null" json:"quantity"`
	Status           DonationStatus `gorm:"not null;default:0;index" json:"status"`
}

func (DonationRequest) TableName() string { return "donation_requests" }
