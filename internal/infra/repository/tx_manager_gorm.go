package repository

import (
	"context"
	"errors"
	"fmt"

	repo "ecorder/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type txReposGorm struct {
	orders        repo.OrderRepository
	orderItems    repo.OrderItemRepository
	products      repo.ProductRepository
	inventory     repo.InventoryRepository
	auditLogs     repo.AuditLogRepository
	paymentEvents repo.PaymentEventRepository
}

func (r *txReposGorm) Orders() repo.OrderRepository               { return r.orders }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository       { return r.orderItems }
func (r *txReposGorm) Products() repo.ProductRepository           { return r.products }
func (r *txReposGorm) Inventory() repo.InventoryRepository        { return r.inventory }
func (r *txReposGorm) AuditLogs() repo.AuditLogRepository         { return r.auditLogs }
func (r *txReposGorm) PaymentEvents() repo.PaymentEventRepository { return r.paymentEvents }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

// gormのTransactionがBegin/Commit/Rollback（panic時も）を面倒見る
func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	err := tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		r := &txReposGorm{
			orders:        NewOrderGormRepository(tx),
			orderItems:    NewOrderItemGormRepository(tx),
			products:      NewProductGormRepository(tx),
			inventory:     NewInventoryGormRepository(tx),
			auditLogs:     NewAuditLogGormRepository(tx),
			paymentEvents: NewPaymentEventGormRepository(tx),
		}
		return fn(r)
	})
	if isRetryableConflict(err) {
		return fmt.Errorf("%w: %v", repo.ErrConflict, err)
	}
	return err
}

// デッドロック(40P01)とシリアライズ失敗(40001)
func isRetryableConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
