package model

import "time"

// 配送方法（参照のみ）
type DeliveryMethod struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name"`
	Description  string    `gorm:"type:varchar(255)" json:"description"`
	DeliveryTime string    `gorm:"type:varchar(100)" json:"delivery_time"`
	Price        int64     `gorm:"not null" json:"price"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
