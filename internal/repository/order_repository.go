package repository

import (
	"context"
	"time"

	"ecorder/internal/domain/model"
)

// 並び順
const (
	OrderSortNewest    = "newest"
	OrderSortOldest    = "oldest"
	OrderSortTotalDesc = "total_desc"
	OrderSortTotalAsc  = "total_asc"
)

// 絞り込み条件（nil/空は条件なし）
type OrderFilter struct {
	UserID *int64
	Status model.OrderStatus
	From   *time.Time
	To     *time.Time
}

// 一覧検索の指定。
// 条件・明細を含めるか・並び順・ページをまとめて渡す。
type OrderQuery struct {
	Filter       OrderFilter
	IncludeItems bool
	Sort         string
	Page         int
	Limit        int
}

// 既定値を埋める
func (q OrderQuery) Normalize() OrderQuery {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 50
	}
	switch q.Sort {
	case OrderSortNewest, OrderSortOldest, OrderSortTotalDesc, OrderSortTotalAsc:
	default:
		q.Sort = OrderSortNewest
	}
	return q
}

func (q OrderQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64, includeItems bool) (model.Order, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (model.Order, error)
	List(ctx context.Context, q OrderQuery) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (int64, error)

	// ステータス更新（versionも+1）
	UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error

	// versionが一致するときだけ更新。一致しなければ false
	CompareAndSetStatus(ctx context.Context, orderID int64, expectedVersion int64, status model.OrderStatus) (bool, error)

	Delete(ctx context.Context, orderID int64) error
}
