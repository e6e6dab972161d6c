package usecase

import (
	"context"
	"errors"
	"time"

	"ecorder/internal/domain/model"
	"ecorder/internal/messaging/kafka"
	"ecorder/internal/metrics"
	repo "ecorder/internal/repository"

	"github.com/sirupsen/logrus"
)

type AdminOrderUsecase struct {
	tx      repo.TransactionManager
	events  OrderEventPublisher
	metrics *metrics.OrderMetrics
	log     *logrus.Entry
	now     func() time.Time
}

func NewAdminOrderUsecase(tx repo.TransactionManager, events OrderEventPublisher, m *metrics.OrderMetrics, log *logrus.Entry) *AdminOrderUsecase {
	if events == nil {
		events = kafka.NopPublisher{}
	}
	if log == nil {
		log = logrus.New().WithField("component", "admin_order")
	}
	return &AdminOrderUsecase{tx: tx, events: events, metrics: m, log: log, now: time.Now}
}

type AdminUpdateOrderStatusInput struct {
	Status string `json:"status"`
}

// 注文一覧（全ユーザー）
func (u *AdminOrderUsecase) List(ctx context.Context, q repo.OrderQuery) (OrderListOutput, error) {
	// page/limitの最低限チェック
	if q.Page < 0 {
		return OrderListOutput{}, errInvalidInput("invalid page")
	}
	if q.Limit < 0 || q.Limit > 100 {
		return OrderListOutput{}, errInvalidInput("invalid limit")
	}
	q = q.Normalize()

	var out OrderListOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().List(ctx, q)
		if err != nil {
			return errTransactionFailed()
		}

		out = OrderListOutput{
			Items: make([]OrderOutput, 0, len(orders)),
			Total: total,
			Page:  q.Page,
			Limit: q.Limit,
		}
		for _, o := range orders {
			out.Items = append(out.Items, toOrderOutput(o, o.Items))
		}
		return nil
	})
	if err != nil {
		return OrderListOutput{}, asTxError(err)
	}
	return out, nil
}

// ステータス更新。遷移の制限はしない（在庫・返金はCancelOrder側）
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in AdminUpdateOrderStatusInput) error {
	if actorAdminUserID <= 0 {
		return errUnauthenticated()
	}
	if orderID <= 0 {
		return errInvalidInput("invalid id")
	}

	newStatus, err := model.ParseOrderStatus(in.Status)
	if err != nil {
		u.metrics.RecordStatusUpdate("admin", "rejected")
		return errInvalidInput("invalid status")
	}

	log := u.log.WithFields(logrus.Fields{
		"actor_user_id": actorAdminUserID,
		"order_id":      orderID,
		"status":        newStatus,
	})

	var (
		changed bool
		updated model.Order
	)

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		changed = false

		o, err := r.Orders().FindByID(ctx, orderID, false)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("order", orderID)
		}
		if err != nil {
			return errTransactionFailed()
		}

		// すでに同じなら何もしない（200）
		if o.Status == newStatus {
			return nil
		}

		beforeStatus := o.Status
		if err := r.Orders().UpdateStatus(ctx, orderID, newStatus); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return errNotFound("order", orderID)
			}
			return errTransactionFailed()
		}

		// 監査ログ（UPDATE_ORDER_STATUS）
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			BeforeJSON:   `{"status":"` + string(beforeStatus) + `"}`,
			AfterJSON:    `{"status":"` + string(newStatus) + `"}`,
			CreatedAt:    u.now(),
		}); err != nil {
			return errTransactionFailed()
		}

		o.Status = newStatus
		updated = o
		changed = true
		return nil
	})
	if err != nil {
		u.metrics.RecordStatusUpdate("admin", "error")
		return asTxError(err)
	}
	if !changed {
		u.metrics.RecordStatusUpdate("admin", "unchanged")
		return nil
	}

	u.metrics.RecordStatusUpdate("admin", "applied")
	log.Info("order status updated")
	publishOrderEvent(ctx, u.events, u.log, kafka.EventTypeOrderStatusChanged, updated, u.now())
	return nil
}
