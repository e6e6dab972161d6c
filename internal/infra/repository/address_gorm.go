package repository

import (
	"context"
	"errors"

	"ecorder/internal/domain/model"
	repo "ecorder/internal/repository"

	"gorm.io/gorm"
)

type addressGormRepository struct {
	db *gorm.DB
}

// DI
func NewAddressGormRepository(db *gorm.DB) repo.AddressRepository {
	return &addressGormRepository{db: db}
}

// 住所IDで1件取得
func (r *addressGormRepository) FindByID(ctx context.Context, addressID int64) (model.Address, error) {
	var a model.Address
	err := r.db.WithContext(ctx).First(&a, addressID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Address{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Address{}, err
	}
	return a, nil
}

type deliveryMethodGormRepository struct {
	db *gorm.DB
}

func NewDeliveryMethodGormRepository(db *gorm.DB) repo.DeliveryMethodRepository {
	return &deliveryMethodGormRepository{db: db}
}

// 無効化された配送方法は存在しない扱い
func (r *deliveryMethodGormRepository) FindByID(ctx context.Context, id int64) (model.DeliveryMethod, error) {
	var dm model.DeliveryMethod
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&dm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.DeliveryMethod{}, repo.ErrNotFound
	}
	if err != nil {
		return model.DeliveryMethod{}, err
	}
	return dm, nil
}
