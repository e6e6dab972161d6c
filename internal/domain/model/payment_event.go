package model

import "time"

// 処理済みの決済Webhookイベント
// 同じイベントIDは二度処理しない。
type PaymentEvent struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID         string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"event_id"`
	EventType       string    `gorm:"type:varchar(100);not null" json:"event_type"`
	PaymentIntentID string    `gorm:"type:varchar(255);not null;index" json:"payment_intent_id"`
	OccurredAt      time.Time `gorm:"not null" json:"occurred_at"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
