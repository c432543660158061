package model

import (
	"time"

	"gorm.io/gorm"
)

// BloodRequestInventory 库存分配台账：每次成功的库存履约精确写一条。
// 它只是审计痕迹，防重的守卫在 BloodRequest.Fulfilled 上。
type BloodRequestInventory struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	BloodRequestID    uint      `gorm:"not null;index" json:"blood_request_id"`
	InventoryID       uint      `gorm:"not null;index" json:"inventory_id"`
	QuantityAllocated int       `gorm:"not null" json:"quantity_allocated"`
	AllocatedAt       time.Time `gorm:"not null" json:"allocated_at"`
	AllocatedBy       string    `gorm:"size:64" json:"allocated_by,omitempty"`
}

func (BloodRequestInventory) TableName() string { return "blood_request_inventories" }
