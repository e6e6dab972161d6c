package repository

import (
	"context"

	"ecorder/internal/domain/model"
)

type PaymentEventRepository interface {
	// イベントを記録。既に同じevent_idがあれば false
	MarkProcessed(ctx context.Context, ev model.PaymentEvent) (bool, error)
}
