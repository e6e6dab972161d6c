package repository

import (
	"context"

	"ecorder/internal/domain/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentEventGormRepository struct {
	db *gorm.DB
}

func NewPaymentEventGormRepository(db *gorm.DB) *PaymentEventGormRepository {
	return &PaymentEventGormRepository{db: db}
}

// event_idのunique制約で重複を弾く（ON CONFLICT DO NOTHING）
func (r *PaymentEventGormRepository) MarkProcessed(ctx context.Context, ev model.PaymentEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
