package model

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusReturned       OrderStatus = "RETURNED"
	OrderStatusFailedPayment  OrderStatus = "FAILED_PAYMENT"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusReturned,
	OrderStatusFailedPayment,
}

// 文字列からステータスへ（大文字小文字は区別しない）
func ParseOrderStatus(s string) (OrderStatus, error) {
	v := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range orderStatuses {
		if st == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// 注文
// Subtotalは作成時点の明細合計。あとから再計算しない。
type Order struct {
	ID               int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber      string      `gorm:"type:varchar(32);not null;index" json:"order_number"`
	UserID           int64       `gorm:"not null;index" json:"user_id"`
	AddressID        int64       `gorm:"not null" json:"address_id"`
	DeliveryMethodID int64       `gorm:"not null" json:"delivery_method_id"`
	Status           OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Subtotal         int64       `gorm:"not null" json:"subtotal"`
	ShippingPrice    int64       `gorm:"not null" json:"shipping_price"`
	Total            int64       `gorm:"not null" json:"total"`
	Currency         string      `gorm:"type:varchar(3);not null" json:"currency"`

	//決済（payment intent）
	PaymentIntentID string `gorm:"type:varchar(255);index" json:"payment_intent_id"`
	ClientSecret    string `gorm:"type:varchar(255)" json:"-"`

	//Webhookとの競合検出用
	Version int64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time   `gorm:"not null;autoUpdateTime" json:"updated_at"`
	Items     []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

// 明細から小計を計算
func SumItems(items []OrderItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.UnitPriceSnapshot * it.Quantity
	}
	return sum
}
