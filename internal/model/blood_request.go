package model

import (
	"time"

	"gorm.io/gorm"
)

// RequestStatus 描述用血申请的审核状态机。
type RequestStatus int

const (
	RequestPending    RequestStatus = iota // 已提交、待审核
	RequestSuccessful                      // 审核通过，进入配血
	RequestCancelled                       // 已取消（终态）
)

// 履约来源标记，写入 FulfilledSource 做审计。
const (
	FulfilledSourceInventory = "Inventory"
	FulfilledSourceDonation  = "Donation"
)

// BloodRequest 用血申请单。
// 审核通过（Successful）且未履约（Fulfilled=false）的申请才是分配引擎的输入；
// Fulfilled 一旦置位即不可重复分配，FulfilledSource 记录供给路径。
type BloodRequest struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID           *int64 `gorm:"index" json:"user_id,omitempty"`
	BloodTypeID      uint   `gorm:"not null;index:idx_request_blood" json:"blood_type_id"`
	BloodComponentID uint   `gorm:"not null;index:idx_request_blood" json:"blood_component_id"`
	Quantity         int    `gorm:"not null" json:"quantity"`
	// Location 为下划线分隔的层级串：省_区_坊，用于就近匹配库存。
	Location  string        `gorm:"size:255" json:"location"`
	Emergency bool          `gorm:"not null;default:false;index" json:"emergency"`
	Status    RequestStatus `gorm:"not null;default:0;index" json:"status"`

	Fulfilled       bool   `gorm:"not null;default:false;index" json:"fulfilled"`
	FulfilledSource string `gorm:"size:32" json:"fulfilled_source,omitempty"`
}

func (BloodRequest) TableName() string { return "blood_requests" }

// Eligible 报告该申请是否可进入分配引擎。
func (r *BloodRequest) Eligible() bool {
	return r.Status == RequestSuccessful && !r.Fulfilled
}
