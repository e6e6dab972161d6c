package repository

import (
	"context"

	"ecorder/internal/domain/model"
)

// token_versionの照合に使う
type UserRepository interface {
	// 見つからなければ (nil, nil)
	FindByID(ctx context.Context, userID int64) (*model.User, error)
}
