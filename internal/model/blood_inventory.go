package model

import (
	"time"

	"gorm.io/gorm"
)

// BloodInventory 血库存货：按（血型、血液成分、存放点）维度记账。
// Quantity 任何时刻不得为负，扣减必须走带条件的原子 UPDATE（见 engine 包）。
type BloodInventory struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	BloodTypeID      uint   `gorm:"not null;index:idx_inventory_blood" json:"blood_type_id"`
	BloodComponentID uint   `gorm:"not null;index:idx_inventory_blood" json:"blood_component_id"`
	Quantity         int    `gorm:"not null;default:0" json:"quantity"`
	Unit             string `gorm:"size:16;not null;default:mL" json:"unit"`
	Location         string `gorm:"size:255" json:"location"`

	// LastUpdated 由引擎在每次出入库时显式刷新；
	// 同分候选按它做先进先出轮转，所以不能依赖 gorm 的 UpdatedAt。
	LastUpdated time.Time `gorm:"index" json:"last_updated"`
}

func (BloodInventory) TableName() string { return "blood_inventories" }
