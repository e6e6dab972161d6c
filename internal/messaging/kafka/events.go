package kafka

import (
	"strconv"
	"time"
)

// EventType は注文イベントの種類
type EventType string

const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderCancelled     EventType = "order.cancelled"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
)

// OrderEvent はcommit後に送る注文イベント
type OrderEvent struct {
	EventType   EventType              `json:"event_type"`
	OrderID     int64                  `json:"order_id"`
	OrderNumber string                 `json:"order_number"`
	UserID      int64                  `json:"user_id"`
	Status      string                 `json:"status"`
	Total       int64                  `json:"total"`
	Currency    string                 `json:"currency"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// パーティションキー（同じ注文は同じパーティションへ）
func (e *OrderEvent) Key() string {
	return strconv.FormatInt(e.OrderID, 10)
}
