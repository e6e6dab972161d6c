package repository

import (
	"context"

	"ecorder/internal/domain/model"
)

type OrderItemRepository interface {
	CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error)
	// 注文の明細をまとめて削除
	DeleteByOrderID(ctx context.Context, orderID int64) error
}
