package repository

import (
	"context"

	"ecorder/internal/domain/model"
)

// 住所の参照だけを約束（注文からは更新しない）
type AddressRepository interface {
	//住所IDから住所を1件取得。無ければErrNotFound
	FindByID(ctx context.Context, addressID int64) (model.Address, error)
}

// 配送方法の参照
type DeliveryMethodRepository interface {
	FindByID(ctx context.Context, deliveryMethodID int64) (model.DeliveryMethod, error)
}
