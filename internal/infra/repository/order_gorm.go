package repository

import (
	"context"
	"errors"

	"ecorder/internal/domain/model"
	repo "ecorder/internal/repository"

	"gorm.io/gorm"
)

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64, includeItems bool) (model.Order, error) {
	q := r.db.WithContext(ctx)
	if includeItems {
		q = q.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") })
	}

	var o model.Order
	err := q.Where("id = ?", orderID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) FindByPaymentIntentID(ctx context.Context, intentID string) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).Where("payment_intent_id = ?", intentID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) List(ctx context.Context, q repo.OrderQuery) ([]model.Order, int64, error) {
	q = q.Normalize()

	tx := r.db.WithContext(ctx).Model(&model.Order{})

	//user_id 絞り込み
	if q.Filter.UserID != nil {
		tx = tx.Where("user_id = ?", *q.Filter.UserID)
	}
	//status 絞り込み
	if q.Filter.Status != "" {
		tx = tx.Where("status = ?", q.Filter.Status)
	}
	//期間絞り込み
	if q.Filter.From != nil {
		tx = tx.Where("created_at >= ?", *q.Filter.From)
	}
	if q.Filter.To != nil {
		tx = tx.Where("created_at <= ?", *q.Filter.To)
	}

	var total int64
	if err := tx.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	switch q.Sort {
	case repo.OrderSortOldest:
		tx = tx.Order("created_at asc").Order("id asc")
	case repo.OrderSortTotalDesc:
		tx = tx.Order("total desc").Order("id desc")
	case repo.OrderSortTotalAsc:
		tx = tx.Order("total asc").Order("id asc")
	default:
		tx = tx.Order("created_at desc").Order("id desc")
	}

	if q.IncludeItems {
		tx = tx.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") })
	}

	var items []model.Order
	if err := tx.Limit(q.Limit).Offset(q.Offset()).Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

// 明細は別途CreateBulkで入れる（ここでは関連を保存しない）
func (r *OrderGormRepository) Create(ctx context.Context, order model.Order) (int64, error) {
	order.Items = nil
	if err := r.db.WithContext(ctx).Omit("Items").Create(&order).Error; err != nil {
		return 0, err
	}
	return order.ID, nil
}

func (r *OrderGormRepository) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"status":  status,
			"version": gorm.Expr("version + 1"),
		})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *OrderGormRepository) CompareAndSetStatus(ctx context.Context, orderID int64, expectedVersion int64, status model.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND version = ?", orderID, expectedVersion).
		Updates(map[string]interface{}{
			"status":  status,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// 物理削除（キャンセル時）
func (r *OrderGormRepository) Delete(ctx context.Context, orderID int64) error {
	res := r.db.WithContext(ctx).Where("id = ?", orderID).Delete(&model.Order{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
