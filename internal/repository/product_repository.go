package repository

import (
	"context"
	"errors"

	"ecorder/internal/domain/model"
)

var ErrNotFound = errors.New("not found")

// 同時更新の競合（デッドロック・シリアライズ失敗など）
var ErrConflict = errors.New("conflict")

// 注文から使うのは参照だけ。在庫の増減はInventoryRepository。
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
}
