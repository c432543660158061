package model

import (
	"time"

	"gorm.io/gorm"
)

// NotificationStatus 已读/未读。
type NotificationStatus int

const (
	NotificationUnread NotificationStatus = iota
	NotificationRead
)

// 通知类别。
const (
	NotificationTypeFulfillment = "fulfillment"
	NotificationTypeDonorMatch  = "donor_match"
)

// Notification 面向用户的站内通知，引擎只追加、不回读。
// 行在履约事务内落库（outbox），投递由 queue 包的 relay 异步完成。
type Notification struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID  int64              `gorm:"not null;index" json:"user_id"`
	Message string             `gorm:"size:512;not null" json:"message"`
	Type    string             `gorm:"size:32;not null" json:"type"`
	Status  NotificationStatus `gorm:"not null;default:0;index" json:"status"`
	SentAt  time.Time          `gorm:"not null" json:"sent_at"`
}

func (Notification) TableName() string { return "notifications" }
