package repository

import (
	"context"

	"ecorder/internal/domain/model"
)

type InventoryRepository interface {
	// 在庫が足りるときだけ減算（UPDATE ... WHERE stock >= qty）。
	// 足りなければ false。読んでから書くのではなく1文で判定する。
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error)

	// 在庫戻し（キャンセル）
	IncreaseStock(ctx context.Context, productID int64, qty int64) error

	// 台帳に履歴を残す
	CreateAdjustments(ctx context.Context, adjustments []model.InventoryAdjustment) error
}
