package model

import "time"

type InventoryReason string

const (
	//注文作成で確保
	InventoryReasonOrderReserve InventoryReason = "ORDER_RESERVE"
	//キャンセルで戻し
	InventoryReasonOrderRestore InventoryReason = "ORDER_RESTORE"
)

//在庫増減の履歴
//ORDER_RESERVEとORDER_RESTOREは必ず対になる。

type InventoryAdjustment struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64           `gorm:"not null;index" json:"product_id"`
	OrderID   int64           `gorm:"not null;index" json:"order_id"`
	Delta     int64           `gorm:"not null" json:"delta"`
	Reason    InventoryReason `gorm:"type:varchar(32);not null" json:"reason"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}
